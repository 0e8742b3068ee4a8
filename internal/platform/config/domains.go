package config

import "time"

// RedditConfig holds API credentials and client tuning.
type RedditConfig struct {
	ClientID       string        `env:"REDDIT_CLIENT_ID,required"`
	ClientSecret   string        `env:"REDDIT_CLIENT_SECRET,required"`
	Username       string        `env:"REDDIT_USERNAME,required"`
	Password       string        `env:"REDDIT_PASSWORD,required"`
	UserAgent      string        `env:"REDDIT_USER_AGENT" envDefault:"linux:edit-relay:v1.0"`
	APIBaseURL     string        `env:"REDDIT_API_BASE_URL" envDefault:"https://oauth.reddit.com"`
	TokenURL       string        `env:"REDDIT_TOKEN_URL" envDefault:"https://www.reddit.com/api/v1/access_token"`
	RequestsPerMin int           `env:"REDDIT_RPM" envDefault:"60"`
	Timeout        time.Duration `env:"REDDIT_TIMEOUT" envDefault:"30s"`
	ReadRetryMax   int           `env:"REDDIT_READ_RETRY_MAX" envDefault:"3"`
}

// StreamConfig holds settings of the watched account's comment stream.
type StreamConfig struct {
	WatchedUser   string        `env:"WATCHED_USER,required"`
	FetchLimit    int           `env:"STREAM_FETCH_LIMIT" envDefault:"100"`
	SeenCacheSize int           `env:"STREAM_SEEN_CACHE_SIZE" envDefault:"4096"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	RestartDelay  time.Duration `env:"STREAM_RESTART_DELAY" envDefault:"60s"`
}

// FilterConfig holds the hot-reloaded list files and static classifier rules.
type FilterConfig struct {
	ApprovedTextsPath   string        `env:"APPROVED_TEXTS_PATH" envDefault:"approved_texts.txt"`
	IgnoredChannelsPath string        `env:"IGNORED_CHANNELS_PATH" envDefault:"ignored_channels.txt"`
	RefreshInterval     time.Duration `env:"FILTER_REFRESH_INTERVAL" envDefault:"1m"`
	ImageHosts          []string      `env:"IMAGE_HOSTS" envSeparator:"," envDefault:"i.redd.it"`
	TemplateMarkers     []string      `env:"TEMPLATE_MARKERS" envSeparator:"|" envDefault:"[template]|[test]|I am a bot"`
}

// StateConfig selects where the ledger and checkpoint live.
type StateConfig struct {
	Backend        string `env:"STATE_BACKEND" envDefault:"file"`
	LedgerPath     string `env:"LEDGER_PATH" envDefault:"published_urls.txt"`
	CheckpointPath string `env:"CHECKPOINT_PATH" envDefault:"checkpoint.txt"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	PostgresDSN       string        `env:"POSTGRES_DSN"`
	MaxConnections    int32         `env:"DB_MAX_CONNECTIONS" envDefault:"4"`
	MinConnections    int32         `env:"DB_MIN_CONNECTIONS" envDefault:"1"`
	MaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	MaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	HealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
}

// RetryConfig holds the retry controller waits.
type RetryConfig struct {
	TransientMaxAttempts int           `env:"RETRY_TRANSIENT_MAX_ATTEMPTS" envDefault:"3"`
	TransientWait        time.Duration `env:"RETRY_TRANSIENT_WAIT" envDefault:"30s"`
	TransportWait        time.Duration `env:"RETRY_TRANSPORT_WAIT" envDefault:"30s"`
	OverloadedWait       time.Duration `env:"RETRY_OVERLOADED_WAIT" envDefault:"10m"`
	ServerWait           time.Duration `env:"RETRY_SERVER_WAIT" envDefault:"2m"`
	ReplyWait            time.Duration `env:"RETRY_REPLY_WAIT" envDefault:"30s"`
}

// PublishConfig holds destination settings.
type PublishConfig struct {
	Destination      string        `env:"DESTINATION_SUBREDDIT,required"`
	RecentPostsLimit int           `env:"RECENT_POSTS_LIMIT" envDefault:"300"`
	SyncInterval     time.Duration `env:"DESTINATION_SYNC_INTERVAL" envDefault:"30m"`
	ReplyFooter      string        `env:"REPLY_FOOTER"`
	ReplyQueueSize   int           `env:"REPLY_QUEUE_SIZE" envDefault:"64"`
}

// FlairConfig holds the static flair lookup.
type FlairConfig struct {
	Enabled bool   `env:"FLAIR_ENABLED" envDefault:"false"`
	Gaming  string `env:"FLAIR_GAMING" envDefault:"Gaming"`
	Series  string `env:"FLAIR_SERIES" envDefault:"Series"`
	General string `env:"FLAIR_GENERAL" envDefault:"General"`
}

// TelegramBotConfig holds the optional operator notification bot.
type TelegramBotConfig struct {
	Token       string `env:"BOT_TOKEN"`
	AdminChatID int64  `env:"ADMIN_CHAT_ID"`
}

// Enabled reports whether notifications can be sent.
func (c TelegramBotConfig) Enabled() bool {
	return c.Token != "" && c.AdminChatID != 0
}
