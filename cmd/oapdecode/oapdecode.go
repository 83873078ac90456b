package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/airborne-oap/oap"
	"github.com/airborne-oap/oap/internal/oapdb"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <path>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		err2 := os.MkdirAll(dir, 0775)
		if err2 != nil {
			return "", err2
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find config
// files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("Verbose", false)
	viper.SetDefault("Policy", "basic")
	viper.SetDefault("AreaRatioReject", 0.0)
	viper.SetDefault("OutputDir", filepath.Join("$HOME", "oap_data"))
	viper.SetDefault("Publish", false)
	viper.SetDefault("PublishPort", oap.Ports.Publish)
	viper.SetDefault("Database", false)
	viper.SetDefault("Calibration", "")

	HOME, err := os.UserHomeDir()
	if err != nil { // Handle errors reading the config file
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotOAP := filepath.Join(HOME, ".oap")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotOAP, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/oap"))
	viper.AddConfigPath(dotOAP)
	viper.AddConfigPath(".")
	err = viper.ReadInConfig() // Find and read the config file
	if err != nil {            // Handle errors reading the config file
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		msg := fmt.Sprintf("Could not open log file '%s'", pfname)
		panic(msg)
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

func usage() {
	fmt.Println("oapdecode, a program to decode optical array probe image records")
	fmt.Println("Usage: oapdecode [flags] file...")
	fmt.Println("Files ending in .2d are read as canonical files; others need -probe.")
	fmt.Printf("Known probes: %s\n", strings.Join(oap.ProbeNames(), " "))
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	oap.Build.Date = buildDate
	oap.Build.Githash = githash
	oap.Build.Gitdate = gitdate
	oap.Build.Summary = fmt.Sprintf("oap version %s (git commit %s of %s)", oap.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		oap.Build.Host = host
	} else {
		oap.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	probe := flag.String("probe", "", "probe name of SPEC raw input, e.g. SH or 3H46")
	littleEndian := flag.Bool("le", false, "SPEC raw input is little-endian")
	policy := flag.String("policy", "", "sizing policy: basic, entirein, centerin or reconstruction")
	minPackets := flag.Int("minpackets", 0, "skip SPEC raw records with fewer particle packets than this")
	dropBad := flag.Bool("dropbad", false, "skip records whose checksum fails")
	calibration := flag.String("calibration", "", "TOML file of probe calibration overrides")
	outdir := flag.String("outdir", "", "base directory of output runs")
	tas := flag.Float64("tas", 0, "true airspeed (m/s) for records without one")
	publish := flag.Bool("publish", false, "publish particle summaries on ZMQ")
	images := flag.Bool("images", false, "include particle images in published summaries")
	usedb := flag.Bool("db", false, "record the run in the ClickHouse database")
	project := flag.String("project", "", "project name written to canonical headers")
	flag.Usage = usage
	flag.Parse()
	quitImmediately := false

	if *printVersion {
		fmt.Printf("This is oap version %s\n", oap.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		quitImmediately = true
	}
	if flag.NArg() == 0 && !quitImmediately {
		flag.Usage()
		quitImmediately = true
	}

	if quitImmediately {
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is oapdecode version %s (git commit %s)\n", oap.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Start logging problems and updates to 2 log files.
	HOME, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(HOME, ".oap", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	oap.ProblemLogger = startLogger(problemname)
	oap.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems to %s\n", problemname)
	fmt.Printf("Logging updates  to %s\n\n", logname)
	oap.UpdateLogger.Printf("\n\n\n\n%s", banner)

	// Find config file, creating it if needed, and read it.
	if err := setupViper(); err != nil {
		panic(err)
	}

	cfg, err := buildConfig(*probe, *littleEndian, *policy, *minPackets, *dropBad, *calibration, *outdir, *tas)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	cfg.Project = *project
	cfg.Images = *images
	cfg.Publish = *publish || viper.GetBool("Publish")
	cfg.PublishPort = viper.GetInt("PublishPort")
	cfg.Verbose = viper.GetBool("Verbose")

	abort := make(chan struct{})
	cfg.DB = oapdb.DummyDBConnection()
	if *usedb || viper.GetBool("Database") {
		activity := &oapdb.ActivityMessage{
			ID:        ulid.Make().String(),
			Hostname:  oap.Build.Host,
			Githash:   githash,
			Version:   oap.Build.Version,
			GoVersion: runtime.Version(),
			CPUs:      runtime.NumCPU(),
			Start:     time.Now(),
		}
		cfg.DB = oapdb.StartDBConnection(activity, abort)
		if err := cfg.DB.Err(); err != nil {
			fmt.Printf("Could not connect to the database, continuing without: %v\n", err)
		}
	}

	status := 0
	for _, input := range flag.Args() {
		run, err := decodeFile(cfg, input)
		if err != nil {
			fmt.Printf("Error decoding %s: %v\n", input, err)
			oap.ProblemLogger.Printf("decoding %s: %v", input, err)
			status = 1
			continue
		}
		fmt.Printf("%s -> %s\n  %v\n", input, run.Directory, run.Diagnostics)
	}
	close(abort)
	cfg.DB.Wait()
	writeMemoryProfile(memprofile)
	if status != 0 {
		os.Exit(status)
	}
}

// buildConfig merges command-line flags over the viper settings.
func buildConfig(probe string, littleEndian bool, policy string, minPackets int,
	dropBad bool, calibration, outdir string, tas float64) (*decodeConfig, error) {
	cfg := &decodeConfig{Probe: probe, Order: binary.BigEndian}
	if littleEndian {
		cfg.Order = binary.LittleEndian
	}
	if policy == "" {
		policy = viper.GetString("Policy")
	}
	p, err := oap.ParsePolicy(policy)
	if err != nil {
		return nil, err
	}
	cfg.Options = oap.Options{
		Policy:           p,
		AreaRatioReject:  viper.GetFloat64("AreaRatioReject"),
		DropBadChecksums: dropBad,
		MinPackets:       minPackets,
		TAS:              tas,
	}
	if calibration == "" {
		calibration = viper.GetString("Calibration")
	}
	cfg.Probes = oap.StandardProbes
	if calibration != "" {
		if cfg.Probes, err = oap.LoadCalibration(calibration); err != nil {
			return nil, err
		}
	}
	if outdir == "" {
		outdir = viper.GetString("OutputDir")
	}
	if strings.Contains(outdir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		outdir = strings.Replace(outdir, "$HOME", home, 1)
	}
	cfg.OutputDir = outdir
	return cfg, nil
}

// writeMemoryProfile writes the memory use profile to the indicated file.
// If `memprofile` points to an empty string, do not write.
func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}

	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
