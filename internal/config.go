package internal

import (
	"fmt"
	"peer-chat/domain"
	"strings"
	"time"
	"unicode"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

var validate = validator.New()

type Config struct {
	AgentNames         string        `env:"AGENT_NAMES,default=alice bob" validate:"required"`
	PlatformName       string        `env:"PLATFORM_NAME,default=peer-chat" validate:"required,excludes=@"`
	CapabilityTag      string        `env:"CAPABILITY_TAG,default=chat-service" validate:"required,excludes=:"`
	DiscoveryInterval  time.Duration `env:"DISCOVERY_INTERVAL,default=5s" validate:"gt=0"`
	InboxWakeInterval  time.Duration `env:"INBOX_WAKE_INTERVAL,default=1s" validate:"gt=0"`
	MailboxSize        int           `env:"MAILBOX_SIZE,default=64" validate:"min=1"`
	TranscriptFilepath string        `env:"TRANSCRIPT_FILEPATH,default=log_file.txt" validate:"required"`
	TranscriptOutbound bool          `env:"TRANSCRIPT_OUTBOUND,default=false"`
	DirectoryBackend   string        `env:"DIRECTORY_BACKEND,default=memory" validate:"oneof=memory badger"`
	DirectoryEntryTTL  time.Duration `env:"DIRECTORY_ENTRY_TTL,default=0s" validate:"min=0"`
	ArchiveEnabled     bool          `env:"ARCHIVE_ENABLED,default=false"`
	BadgerFilepath     string        `env:"BADGER_FILEPATH,default=./data/badger" validate:"required"`
	HistoryLimit       int           `env:"HISTORY_LIMIT,default=20" validate:"min=1"`
	RestartInterval    time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	MetricInterval     time.Duration `env:"METRIC_INTERVAL,default=10s" validate:"gt=0"`
	DebugPort          int           `env:"DEBUG_PORT,default=0" validate:"min=0,max=65535"`
	Colours            bool          `env:"COLOURS,default=true"`
	LogLevel           string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
}

// LoadConfig reads an optional .env file, then the environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	names := c.Agents()
	if len(names) == 0 {
		return fmt.Errorf("invalid config: AGENT_NAMES holds no name")
	}
	if dup := lo.FindDuplicates(names); len(dup) > 0 {
		return fmt.Errorf("invalid config: AGENT_NAMES repeats %s", strings.Join(dup, ", "))
	}
	if lo.SomeBy(names, func(n string) bool { return strings.ContainsAny(n, "@:") }) {
		return fmt.Errorf("invalid config: agent names cannot contain '@' or ':'")
	}
	return nil
}

// Agents returns the names of AGENT_NAMES, separated by commas or spaces.
func (c Config) Agents() []string {
	return strings.FieldsFunc(c.AgentNames, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

func (c Config) PeerIDs() []domain.PeerID {
	return lo.Map(c.Agents(), func(n string, _ int) domain.PeerID {
		return domain.NewPeerID(n, c.PlatformName)
	})
}

// NeedsBadger reports whether any component persists to badger.
func (c Config) NeedsBadger() bool {
	return c.DirectoryBackend == BackendBadger || c.ArchiveEnabled || c.DebugPort > 0
}
