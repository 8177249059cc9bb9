package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	Trainer   TrainerConfig   `mapstructure:"trainer"`
	Server    ServerConfig    `mapstructure:"server"`
	LogLevel  string          `mapstructure:"log_level"`
}

type PathsConfig struct {
	Vocab       string `mapstructure:"vocab"`
	VocabFormat string `mapstructure:"vocab_format"`
}

type TokenizerConfig struct {
	UnkToken             string `mapstructure:"unk_token"`
	MaxInputCharsPerWord int    `mapstructure:"max_input_chars_per_word"`
	StripAccents         bool   `mapstructure:"strip_accents"`
	Lowercase            bool   `mapstructure:"lowercase"`
	StrictDecode         bool   `mapstructure:"strict_decode"`
}

type TrainerConfig struct {
	VocabSize     int      `mapstructure:"vocab_size"`
	MinFrequency  int      `mapstructure:"min_frequency"`
	SpecialTokens []string `mapstructure:"special_tokens"`
	Workers       int      `mapstructure:"workers"`
}

// ServerConfig timeouts are in seconds.
type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			Vocab:       "models/vocab.txt",
			VocabFormat: "auto",
		},
		Tokenizer: TokenizerConfig{
			UnkToken:             "[UNK]",
			MaxInputCharsPerWord: 200,
			StripAccents:         true,
			Lowercase:            true,
			StrictDecode:         false,
		},
		Trainer: TrainerConfig{
			VocabSize:     30000,
			MinFrequency:  2,
			SpecialTokens: []string{"[UNK]", "[CLS]", "[SEP]", "[PAD]", "[MASK]"},
			Workers:       0,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         2,
			MaxTextBytes:    1 << 20,
			RequestTimeout:  60,
			ShutdownTimeout: 30,
		},
		LogLevel: "info",
	}
}

// flagKeys maps each config key to the flag that sets it. The first flag
// is canonical; later ones are short aliases.
var flagKeys = []struct {
	key   string
	flags []string
}{
	{"paths.vocab", []string{"paths-vocab", "vocab"}},
	{"paths.vocab_format", []string{"paths-vocab-format", "vocab-format"}},
	{"tokenizer.unk_token", []string{"tokenizer-unk-token", "unk-token"}},
	{"tokenizer.max_input_chars_per_word", []string{"tokenizer-max-input-chars-per-word"}},
	{"tokenizer.strip_accents", []string{"tokenizer-strip-accents"}},
	{"tokenizer.lowercase", []string{"tokenizer-lowercase"}},
	{"tokenizer.strict_decode", []string{"tokenizer-strict-decode", "strict"}},
	{"trainer.vocab_size", []string{"trainer-vocab-size"}},
	{"trainer.min_frequency", []string{"trainer-min-frequency"}},
	{"trainer.special_tokens", []string{"trainer-special-tokens"}},
	{"trainer.workers", []string{"trainer-workers"}},
	{"server.listen_addr", []string{"server-listen-addr"}},
	{"server.workers", []string{"server-workers", "workers"}},
	{"server.max_text_bytes", []string{"server-max-text-bytes"}},
	{"server.request_timeout", []string{"server-request-timeout"}},
	{"server.shutdown_timeout", []string{"server-shutdown-timeout"}},
	{"log_level", []string{"log-level"}},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-vocab", defaults.Paths.Vocab, "Path to vocabulary file")
	fs.String("vocab", defaults.Paths.Vocab, "Path to vocabulary file (alias for --paths-vocab)")
	fs.String("paths-vocab-format", defaults.Paths.VocabFormat, "Vocabulary file format (auto|txt|json|cbor)")
	fs.String("vocab-format", defaults.Paths.VocabFormat, "Vocabulary file format (alias for --paths-vocab-format)")
	fs.String("tokenizer-unk-token", defaults.Tokenizer.UnkToken, "Token emitted for unmatchable words")
	fs.String("unk-token", defaults.Tokenizer.UnkToken, "Unknown token (alias for --tokenizer-unk-token)")
	fs.Int("tokenizer-max-input-chars-per-word", defaults.Tokenizer.MaxInputCharsPerWord, "Words longer than this become the unknown token")
	fs.Bool("tokenizer-strip-accents", defaults.Tokenizer.StripAccents, "Strip accents before matching")
	fs.Bool("tokenizer-lowercase", defaults.Tokenizer.Lowercase, "Lowercase before matching")
	fs.Bool("tokenizer-strict-decode", defaults.Tokenizer.StrictDecode, "Fail decode on ids outside the vocabulary")
	fs.Bool("strict", defaults.Tokenizer.StrictDecode, "Strict decode (alias for --tokenizer-strict-decode)")
	fs.Int("trainer-vocab-size", defaults.Trainer.VocabSize, "Target vocabulary size")
	fs.Int("trainer-min-frequency", defaults.Trainer.MinFrequency, "Minimum pair frequency for a merge")
	fs.StringSlice("trainer-special-tokens", defaults.Trainer.SpecialTokens, "Special tokens reserved at the lowest ids")
	fs.Int("trainer-workers", defaults.Trainer.Workers, "Parallel pair counting workers (0 = GOMAXPROCS)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-workers", defaults.Server.Workers, "Max concurrent training requests")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent training requests (alias for --server-workers)")
	fs.Int("server-max-text-bytes", defaults.Server.MaxTextBytes, "Max request body size in bytes")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request timeout in seconds")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	v.SetEnvPrefix("WORDPIECE")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("wordpiece")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.vocab", c.Paths.Vocab)
	v.SetDefault("paths.vocab_format", c.Paths.VocabFormat)
	v.SetDefault("tokenizer.unk_token", c.Tokenizer.UnkToken)
	v.SetDefault("tokenizer.max_input_chars_per_word", c.Tokenizer.MaxInputCharsPerWord)
	v.SetDefault("tokenizer.strip_accents", c.Tokenizer.StripAccents)
	v.SetDefault("tokenizer.lowercase", c.Tokenizer.Lowercase)
	v.SetDefault("tokenizer.strict_decode", c.Tokenizer.StrictDecode)
	v.SetDefault("trainer.vocab_size", c.Trainer.VocabSize)
	v.SetDefault("trainer.min_frequency", c.Trainer.MinFrequency)
	v.SetDefault("trainer.special_tokens", c.Trainer.SpecialTokens)
	v.SetDefault("trainer.workers", c.Trainer.Workers)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("log_level", c.LogLevel)
}

// bindFlags binds each key to the alias flag the user actually set, or to
// the canonical flag otherwise, so unset flags never mask config files or
// the environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		var bound *pflag.Flag
		for _, name := range fk.flags {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if bound == nil || f.Changed {
				bound = f
			}
			if f.Changed {
				break
			}
		}
		if bound == nil {
			continue
		}
		if err := v.BindPFlag(fk.key, bound); err != nil {
			return fmt.Errorf("%s: %w", fk.key, err)
		}
	}

	return nil
}
