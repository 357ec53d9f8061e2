// Command encfs mounts a directory tree through an encrypting overlay.
//
// Usage:
//
//	encfs [flags] <passphrase> <root-dir> <mount-point>
//
// Files created through the mount are encrypted with the passphrase; files
// that already exist in root-dir without the encryption marker are passed
// through unchanged.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/absfs/encfs"
	"github.com/absfs/encfs/fusefs"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const passphraseEnv = "ENCFS_PASSPHRASE"

// Replaced in tests.
var (
	getuid  = os.Getuid
	geteuid = os.Geteuid
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stderr))
}

func run(args []string, stdin io.Reader, stderr io.Writer) int {
	if getuid() == 0 || geteuid() == 0 {
		fmt.Fprintln(stderr, "Running encfs as root opens unacceptable security holes")
		return 1
	}

	opts, err := parseArgs(args, stderr)
	switch {
	case errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		newFlagSet(&options{}, stderr).Usage()
		return 2
	case err != nil:
		fmt.Fprintf(stderr, "encfs: %v\n", err)
		return 2
	}

	log, err := opts.logger(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "encfs: %v\n", err)
		return 2
	}

	if err := mount(opts, stdin, log); err != nil {
		log.WithError(err).Error("encfs failed")
		return 1
	}
	return 0
}

// mount serves the overlay until the filesystem is unmounted or the process
// is signalled.
func mount(opts *options, stdin io.Reader, log *logrus.Logger) error {
	session := log.WithField("session", uuid.New().String())

	passphrase, err := readPassphrase(opts.Passphrase, stdin)
	if err != nil {
		return err
	}

	root, err := filepath.Abs(opts.Root)
	if err == nil {
		root, err = filepath.EvalSymlinks(root)
	}
	if err != nil {
		return fmt.Errorf("invalid root directory: %w", err)
	}

	cipher, err := encfs.ParseCipherSuite(opts.Cipher)
	if err != nil {
		return err
	}
	kdf, err := opts.kdf()
	if err != nil {
		return err
	}

	var metrics *encfs.Metrics
	if opts.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if metrics, err = encfs.NewMetrics(reg); err != nil {
			return err
		}
		go serveMetrics(opts.MetricsAddr, reg, session)
	}

	engine, err := encfs.New(&encfs.Config{
		Root:          root,
		Passphrase:    passphrase,
		Cipher:        cipher,
		KDF:           kdf,
		StrictMarkers: opts.StrictMarkers,
		Logger:        session,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}

	// modes requested through the mount reach the backing files unmasked
	unix.Umask(0)

	server, err := fusefs.Mount(opts.Mountpoint, fusefs.NewDispatcher(engine, session), fusefs.MountOptions{
		AllowOther: opts.AllowOther,
		Debug:      opts.DebugFUSE,
	})
	if err != nil {
		return fmt.Errorf("mount %s: %w", opts.Mountpoint, err)
	}

	session.WithFields(logrus.Fields{
		"root":       root,
		"mountpoint": opts.Mountpoint,
		"cipher":     cipher.String(),
	}).Info("mounted")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		session.Infof("unmounting on signal %v", sig)
		if err := server.Unmount(); err != nil {
			session.WithError(err).Warn("unmount failed")
		}
	}()

	server.Wait()
	session.Info("unmounted")
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Infof("serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}

// readPassphrase returns arg, or for "-" the passphrase from the environment
// or the terminal.
func readPassphrase(arg string, stdin io.Reader) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}

	if env := os.Getenv(passphraseEnv); env != "" {
		return []byte(env), nil
	}

	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(os.Stderr, "Passphrase: ")
		defer fmt.Fprintln(os.Stderr)
		p, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
		return p, nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
