/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command loghogd is the centralized log-collection daemon: it accepts
// structured records over UDP/TCP/TLS, classifies them by application and
// module, writes them to per-facility files, rotates on schedule or size,
// and compresses rotated backups in the background.
//
// Daemonization (fork/setsid), privilege dropping, and certificate
// generation are out of scope per spec.md §1 and are represented here only
// as documented extension points (the --daemon and --user flags are
// accepted and logged, not acted on).
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"

	"github.com/gravwell/loghogd/internal/compress"
	"github.com/gravwell/loghogd/internal/config"
	"github.com/gravwell/loghogd/internal/dlog"
	"github.com/gravwell/loghogd/internal/facility"
	"github.com/gravwell/loghogd/internal/processor"
	"github.com/gravwell/loghogd/internal/schedule"
	"github.com/gravwell/loghogd/internal/server"
	"github.com/gravwell/loghogd/internal/version"
	"github.com/gravwell/loghogd/internal/writer"
)

// BSD sysexits, matching the reference implementation's sys.exit(os.EX_CONFIG)
// and sys.exit(os.EX_SOFTWARE) calls (spec.md §6).
const (
	exOK       = 0
	exConfig   = 78
	exSoftware = 70
)

var (
	configPath    = flag.String("config", "/opt/loghogd/etc/loghogd.conf", "main configuration file")
	configPathC   = flag.String("c", "", "shorthand for -config")
	facPath       = flag.String("facilities-config", "", "facilities configuration file (overrides the main config's facilities_config)")
	facPathF      = flag.String("F", "", "shorthand for -facilities-config")
	checkConfig   = flag.Bool("check-config", false, "validate configuration and exit")
	genConfig     = flag.Bool("gen-config", false, "print a sample main configuration to stdout and exit")
	daemonize     = flag.Bool("daemon", false, "(unsupported here) run as a background daemon")
	daemonizeD    = flag.Bool("d", false, "shorthand for -daemon")
	pidPath       = flag.String("pid", "", "pidfile path (overrides the main config's pid_file)")
	pidPathP      = flag.String("p", "", "shorthand for -pid")
	runAsUser     = flag.String("user", "", "(unsupported here) drop privileges to this user after binding")
	logDirFlag    = flag.String("log-dir", "", "log directory (overrides the main config's log_dir)")
	logDirFlagL   = flag.String("L", "", "shorthand for -log-dir")
	workDirFlag   = flag.String("work-dir", "", "working directory (overrides the main config's working_dir)")
	runDirFlag    = flag.String("run-dir", "", "run directory (overrides the main config's run_dir)")
	internalLog   = flag.String("log", "", "internal daemon log file (overrides the main config's internal_log_file)")
	internalLogL  = flag.String("l", "", "shorthand for -log")
	showVersion   = flag.Bool("version", false, "print version information and exit")
)

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func main() {
	flag.Parse()

	if *showVersion {
		version.PrintVersion(os.Stdout)
		os.Exit(exOK)
	}

	if *genConfig {
		fmt.Println(sampleConfig)
		os.Exit(exOK)
	}

	path := firstNonEmpty(*configPathC, *configPath)
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loghogd: configuration error: %v\n", err)
		os.Exit(exConfig)
	}

	if f := firstNonEmpty(*facPathF, *facPath); f != "" {
		cfg.FacilitiesConfig = f
	}
	if d := firstNonEmpty(*logDirFlagL, *logDirFlag); d != "" {
		cfg.LogDir = d
	}
	if d := *workDirFlag; d != "" {
		cfg.WorkingDir = d
	}
	if d := *runDirFlag; d != "" {
		cfg.RunDir = d
	}
	if p := firstNonEmpty(*pidPathP, *pidPath); p != "" {
		cfg.PidFile = p
	}
	if l := firstNonEmpty(*internalLogL, *internalLog); l != "" {
		cfg.InternalLogFile = l
	}

	db, err := facility.LoadConfig(cfg.FacilitiesConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loghogd: facilities configuration error: %v\n", err)
		os.Exit(exConfig)
	}

	if *checkConfig {
		fmt.Println("configuration OK")
		os.Exit(exOK)
	}

	if err := cfg.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "loghogd: %v\n", err)
		os.Exit(exConfig)
	}

	log := dlog.NewStderrLogger()
	if err := log.SetLevelString(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "loghogd: %v\n", err)
		os.Exit(exConfig)
	}
	if cfg.InternalLogFile != "" {
		daily, err := dlog.NewDailyRotatingFile(cfg.InternalLogFile, 14)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loghogd: cannot open internal log: %v\n", err)
			os.Exit(exConfig)
		}
		log.AddWriter(daily)
	}

	if *daemonize || *daemonizeD {
		log.Warn("the --daemon flag is accepted but forking/setsid is handled by an external supervisor in this build")
	}
	if *runAsUser != "" {
		log.Warn("the --user flag is accepted but privilege dropping is handled by an external supervisor in this build", dlog.KV("user", *runAsUser))
	}

	if err := run(cfg, db, log); err != nil {
		log.Error("fatal error", dlog.KVErr(err))
		os.Exit(exSoftware)
	}
}

// run wires together the Scheduler, Compressor, Writer, Processor, and
// Server, then blocks until a shutdown signal is received. It is factored
// out of main so that startup errors return through a single path rather
// than being scattered across os.Exit calls.
func run(cfg *config.Config, db *facility.DB, log *dlog.Logger) error {
	sched, err := schedule.New(filepath.Join(cfg.WorkingDir, "schedules"))
	if err != nil {
		return fmt.Errorf("opening scheduler state: %w", err)
	}

	comp, err := compress.New(cfg.CompressionFormat, cfg.CompressionLevel, cfg.CompressOnWrite, log)
	if err != nil {
		return fmt.Errorf("initializing compressor: %w", err)
	}
	if err := comp.FindUncompressed(cfg.LogDir, isRotatedBackup); err != nil {
		log.Warn("startup compression scan failed", dlog.KVErr(err))
	}

	w := writer.New(cfg.LogDir, sched, comp, log)
	proc := processor.New(db, w, log)

	srvCfg, err := buildServerConfig(cfg)
	if err != nil {
		return fmt.Errorf("building listener configuration: %w", err)
	}

	srv := server.New(proc, log)
	if err := srv.Start(srvCfg); err != nil {
		return fmt.Errorf("starting listeners: %w", err)
	}
	log.Info("loghogd started", dlog.KV("version", version.String()))

	if cfg.PidFile != "" {
		if err := os.WriteFile(cfg.PidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
			log.Warn("unable to write pidfile", dlog.KVErr(err))
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	for sig := range sigs {
		switch sig {
		case syscall.SIGHUP:
			reload(cfg, proc, w, log)
		default:
			log.Info("shutting down", dlog.KV("signal", sig.String()))
			srv.Shutdown()
			comp.Shutdown()
			w.CloseAll()
			return nil
		}
	}
	return nil
}

// reload re-reads the facilities configuration and swaps it into the
// Processor atomically, then closes every open log file so the Writer
// lazily reopens them under possibly-changed rotation settings. If the
// main configuration file has changed on disk since startup, reload
// refuses and instructs the operator to restart instead (spec.md §5).
func reload(cfg *config.Config, proc *processor.Processor, w *writer.Writer, log *dlog.Logger) {
	unchanged, err := cfg.Unchanged()
	if err != nil {
		log.Error("reload: unable to check main configuration checksum", dlog.KVErr(err))
		return
	}
	if !unchanged {
		log.Error("reload: main configuration file has changed on disk; restart the daemon instead of SIGHUP")
		return
	}

	db, err := facility.LoadConfig(cfg.FacilitiesConfig)
	if err != nil {
		log.Error("reload: facilities configuration error, keeping previous configuration", dlog.KVErr(err))
		return
	}
	proc.SetFacilityDB(db)
	if err := w.Reload(); err != nil {
		log.Warn("reload: error closing open log files", dlog.KVErr(err))
	}
	log.Info("reloaded facilities configuration")
}

func buildServerConfig(cfg *config.Config) (server.Config, error) {
	var sc server.Config

	udp4, err := server.ParseAddrs(cfg.ListenIPv4, cfg.DefaultPort)
	if err != nil {
		return sc, err
	}
	udp6, err := server.ParseAddrs(cfg.ListenIPv6, cfg.DefaultPort)
	if err != nil {
		return sc, err
	}
	sc.UDP = append(udp4, udp6...)

	tcp4, err := server.ParseAddrs(cfg.ListenIPv4, cfg.DefaultPort)
	if err != nil {
		return sc, err
	}
	tcp6, err := server.ParseAddrs(cfg.ListenIPv6, cfg.DefaultPort)
	if err != nil {
		return sc, err
	}
	sc.TCP = append(tcp4, tcp6...)

	tls4, err := server.ParseAddrs(cfg.ListenIPv4SSL, cfg.DefaultTLSPort)
	if err != nil {
		return sc, err
	}
	tls6, err := server.ParseAddrs(cfg.ListenIPv6SSL, cfg.DefaultTLSPort)
	if err != nil {
		return sc, err
	}
	sc.TLS = append(tls4, tls6...)

	if len(sc.TLS) > 0 {
		tlsCfg, err := loadTLSConfig(cfg.PEMFile, cfg.CAFile)
		if err != nil {
			return sc, err
		}
		sc.TLSConfig = tlsCfg
	}

	return sc, nil
}

// rotatedBackupRE matches the timestamp suffix internal/writer's rotation
// action appends (e.g. "app.log.2024-01-01-00-00-00.000123"), identifying
// files left behind by a rotation that a previous crash never compressed.
var rotatedBackupRE = regexp.MustCompile(`\.\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2}\.\d+$`)

func isRotatedBackup(name string) bool {
	return rotatedBackupRE.MatchString(name)
}

const sampleConfig = `[Global]
listen_ipv4 = 0.0.0.0
listen_ipv6 = [::]
; listen_ipv4_ssl = 0.0.0.0
; listen_ipv6_ssl = [::]
default_port = 7777
default_ssl_port = 7778
; pem_file = /opt/loghogd/etc/loghogd.pem
; ca_file = /opt/loghogd/etc/ca.pem
working_dir = /opt/loghogd/work
log_dir = /opt/loghogd/logs
run_dir = /opt/loghogd/run
pid_file = /opt/loghogd/run/loghogd.pid
internal_log_file = /opt/loghogd/logs/loghogd.log
facilities_config = /opt/loghogd/etc/facilities.conf
compression_format = gzip
compression_level = 6
compress_on_write = false
log_level = INFO
`
