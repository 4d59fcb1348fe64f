package config

import "time"

// SyncEngine definition sync_engine YAML structure
type SyncEngine struct {
	API     APIConfig     `mapstructure:"api"`
	Channel ChannelConfig `mapstructure:"channel"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Send    SendConfig    `mapstructure:"send"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Media   MediaConfig   `mapstructure:"media"`
}

// APIConfig definition backend HTTP API setting
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ChannelConfig definition realtime channel setting
type ChannelConfig struct {
	URL              string        `mapstructure:"url"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `mapstructure:"reconnect_max_delay"`
	TypingThrottle   time.Duration `mapstructure:"typing_throttle"`
	SeenIDCapacity   int           `mapstructure:"seen_id_capacity"`
}

// CacheConfig definition durable cache setting
type CacheConfig struct {
	Dir               string        `mapstructure:"dir"`
	MaxRooms          int           `mapstructure:"max_rooms"`
	MaxMessagesPerRoom int          `mapstructure:"max_messages_per_room"`
	WriteDebounce     time.Duration `mapstructure:"write_debounce"`
	FreshFor          time.Duration `mapstructure:"fresh_for"`
	RetainFor         time.Duration `mapstructure:"retain_for"`
	MediaRetainFor    time.Duration `mapstructure:"media_retain_for"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

// SendConfig definition optimistic send setting
type SendConfig struct {
	MaxAttempts int             `mapstructure:"max_attempts"`
	Backoff     []time.Duration `mapstructure:"backoff"`
	MatchWindow time.Duration   `mapstructure:"match_window"`
}

// SyncConfig definition sync coordinator setting
type SyncConfig struct {
	Throttle    time.Duration `mapstructure:"throttle"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	ResumeDelay time.Duration `mapstructure:"resume_delay"`
}

// MediaConfig definition media download setting
type MediaConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	BatchPause  time.Duration `mapstructure:"batch_pause"`
}

// Default fills unset fields with the engine's baked-in tunables.
func (c *SyncEngine) Default() {
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = 15 * time.Second
	}
	if c.Channel.ConnectTimeout == 0 {
		c.Channel.ConnectTimeout = 20 * time.Second
	}
	if c.Channel.ReconnectBaseDelay == 0 {
		c.Channel.ReconnectBaseDelay = time.Second
	}
	if c.Channel.ReconnectMaxDelay == 0 {
		c.Channel.ReconnectMaxDelay = 5 * time.Second
	}
	if c.Channel.TypingThrottle == 0 {
		c.Channel.TypingThrottle = 500 * time.Millisecond
	}
	if c.Channel.SeenIDCapacity == 0 {
		c.Channel.SeenIDCapacity = 1000
	}
	if c.Cache.MaxRooms == 0 {
		c.Cache.MaxRooms = 100
	}
	if c.Cache.MaxMessagesPerRoom == 0 {
		c.Cache.MaxMessagesPerRoom = 500
	}
	if c.Cache.WriteDebounce == 0 {
		c.Cache.WriteDebounce = 500 * time.Millisecond
	}
	if c.Cache.FreshFor == 0 {
		c.Cache.FreshFor = 24 * time.Hour
	}
	if c.Cache.RetainFor == 0 {
		c.Cache.RetainFor = 30 * 24 * time.Hour
	}
	if c.Cache.MediaRetainFor == 0 {
		c.Cache.MediaRetainFor = 7 * 24 * time.Hour
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = 24 * time.Hour
	}
	if c.Send.MaxAttempts == 0 {
		c.Send.MaxAttempts = 5
	}
	if len(c.Send.Backoff) == 0 {
		c.Send.Backoff = []time.Duration{
			time.Second,
			2 * time.Second,
			3 * time.Second,
			5 * time.Second,
			10 * time.Second,
		}
	}
	if c.Send.MatchWindow == 0 {
		c.Send.MatchWindow = 5 * time.Second
	}
	if c.Sync.Throttle == 0 {
		c.Sync.Throttle = 5 * time.Second
	}
	if c.Sync.SettleDelay == 0 {
		c.Sync.SettleDelay = 250 * time.Millisecond
	}
	if c.Sync.ResumeDelay == 0 {
		c.Sync.ResumeDelay = time.Second
	}
	if c.Media.Concurrency == 0 {
		c.Media.Concurrency = 3
	}
	if c.Media.BatchPause == 0 {
		c.Media.BatchPause = 200 * time.Millisecond
	}
}
