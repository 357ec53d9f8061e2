package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/absfs/encfs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// errUsage means the command line was incomplete; the caller prints usage.
var errUsage = errors.New("usage")

// options is the merged result of the config file and the command line.
type options struct {
	Cipher           string `yaml:"cipher"`
	KDF              string `yaml:"kdf"`
	Argon2Memory     uint32 `yaml:"argon2_memory"`
	Argon2Iterations uint32 `yaml:"argon2_iterations"`
	StrictMarkers    bool   `yaml:"strict_markers"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`
	MetricsAddr      string `yaml:"metrics_addr"`
	AllowOther       bool   `yaml:"allow_other"`
	DebugFUSE        bool   `yaml:"debug_fuse"`

	ConfigFile string `yaml:"-"`
	Passphrase string `yaml:"-"`
	Root       string `yaml:"-"`
	Mountpoint string `yaml:"-"`
}

func defaultOptions() options {
	return options{
		Cipher:           encfs.CipherAESSIV.String(),
		KDF:              "argon2id",
		Argon2Memory:     64 * 1024,
		Argon2Iterations: 3,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

func newFlagSet(o *options, output io.Writer) *pflag.FlagSet {
	flags := pflag.NewFlagSet("encfs", pflag.ContinueOnError)
	flags.SetOutput(output)
	flags.SetInterspersed(false)

	flags.StringVar(&o.ConfigFile, "config", o.ConfigFile, "Optional, YAML file with defaults for the flags below")
	flags.StringVar(&o.Cipher, "cipher", o.Cipher, "Optional, cipher for newly written content: aes-siv, aes-256-gcm or chacha20-poly1305")
	flags.StringVar(&o.KDF, "kdf", o.KDF, "Optional, key derivation: argon2id or pbkdf2")
	flags.Uint32Var(&o.Argon2Memory, "argon2-memory", o.Argon2Memory, "Optional, Argon2id memory in KiB")
	flags.Uint32Var(&o.Argon2Iterations, "argon2-iterations", o.Argon2Iterations, "Optional, Argon2id iterations")
	flags.BoolVar(&o.StrictMarkers, "strict-markers", o.StrictMarkers, "Optional, fail operations when the encryption marker cannot be read")
	flags.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Optional, one of panic, fatal, error, warning, info, debug, trace")
	flags.StringVar(&o.LogFormat, "log-format", o.LogFormat, "Optional, text or json")
	flags.StringVar(&o.MetricsAddr, "metrics-addr", o.MetricsAddr, "Optional, address to serve Prometheus metrics on, e.g. :9100")
	flags.BoolVar(&o.AllowOther, "allow-other", o.AllowOther, "Optional, let other users access the mount")
	flags.BoolVar(&o.DebugFUSE, "debug-fuse", o.DebugFUSE, "Optional, log every FUSE request")

	flags.Usage = func() {
		fmt.Fprintf(output, "usage: encfs [flags] <passphrase> <root-dir> <mount-point>\n\n")
		fmt.Fprintf(output, "A passphrase of \"-\" is read from $%s or the terminal.\n\n", passphraseEnv)
		flags.PrintDefaults()
	}
	return flags
}

// parseArgs parses the command line. Values from --config are used for every
// flag not given on the command line.
func parseArgs(args []string, output io.Writer) (*options, error) {
	o := defaultOptions()
	flags := newFlagSet(&o, output)
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if o.ConfigFile != "" {
		merged, err := loadConfigFile(o.ConfigFile)
		if err != nil {
			return nil, err
		}

		mergedFlags := newFlagSet(merged, output)
		var setErr error
		flags.Visit(func(f *pflag.Flag) {
			if err := mergedFlags.Set(f.Name, f.Value.String()); err != nil && setErr == nil {
				setErr = err
			}
		})
		if setErr != nil {
			return nil, setErr
		}
		merged.ConfigFile = o.ConfigFile
		o = *merged
	}

	positional := flags.Args()
	if len(positional) != 3 {
		return nil, errUsage
	}
	o.Passphrase, o.Root, o.Mountpoint = positional[0], positional[1], positional[2]
	return &o, nil
}

func loadConfigFile(path string) (*options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	o := defaultOptions()
	if err := yaml.UnmarshalStrict(data, &o); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &o, nil
}

// kdf builds the key derivation selected by o.
func (o *options) kdf() (encfs.KeyDerivation, error) {
	switch strings.ToLower(o.KDF) {
	case "", "argon2id", "argon2":
		return encfs.NewArgon2idKDF(encfs.Argon2idParams{
			Memory:     o.Argon2Memory,
			Iterations: o.Argon2Iterations,
		}), nil
	case "pbkdf2":
		return encfs.NewPBKDF2KDF(encfs.PBKDF2Params{HashFunc: encfs.SHA256}), nil
	}
	return nil, encfs.NewValidationError("kdf", o.KDF, "unknown key derivation")
}

// logger builds the process logger selected by o.
func (o *options) logger(out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(o.LogLevel)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)

	switch strings.ToLower(o.LogFormat) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, encfs.NewValidationError("log_format", o.LogFormat, "expected text or json")
	}
	return log, nil
}
