// Package config loads geoblock-core settings from TOML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Matching rule modes for country lists.
const (
	RuleUnconfigured = -1
	RuleWhitelist    = 0
	RuleBlacklist    = 1
)

// Per-hook validation mode bits.
const (
	ModeBypass  = 0
	ModeCountry = 1 // block by country
	ModeZEP     = 2 // zero-day exploit prevention (nonce check)
	ModeClosed  = 2 // xmlrpc only: completely closed
)

// Settings is the full application configuration. It is read-only from the
// validation pipeline's perspective; a copy is taken per request where a
// stage needs to override fields (public hook rule replacement).
type Settings struct {
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
	Rules    RulesConfig    `toml:"rules"`
	ExtraIPs ExtraIPsConfig `toml:"extra_ips"`

	// Providers maps provider name to API key. A provider that needs no
	// key is enabled with an empty value; an absent entry leaves the
	// provider disabled.
	Providers map[string]string `toml:"providers"`

	Geo        GeoConfig        `toml:"geo"`
	Cache      CacheConfig      `toml:"cache"`
	Validation ValidationConfig `toml:"validation"`
	Login      LoginConfig      `toml:"login"`
	Response   ResponseConfig   `toml:"response"`
	Public     PublicConfig     `toml:"public"`
	Mimetype   MimetypeConfig   `toml:"mimetype"`

	// Signatures are malicious query fragments, each optionally scored as
	// "fragment:0.5". Scores accumulate per request; above 1.0 blocks.
	Signatures []string `toml:"signatures"`

	// Exception lists per hook (admin/ajax/plugins/themes): page or action
	// names that bypass country blocking and ZEP.
	Exception map[string][]string `toml:"exception"`

	SaveStatistics bool `toml:"save_statistics"`

	// Simulate runs the full pipeline and records logs but never sends a
	// blocking response.
	Simulate bool `toml:"simulate"`
}

// ServerConfig contains the reference server configuration.
type ServerConfig struct {
	Bind    string `toml:"bind"`
	AuthKey string `toml:"auth_key"` // secret for ZEP nonces
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// RulesConfig holds the country matching rule and lists. List entries are
// comma separated: "US", "US,CA", or place-qualified "US:city:Seattle",
// "US:state:Washington", legacy "FR:Paris" (city).
type RulesConfig struct {
	MatchingRule int    `toml:"matching_rule"` // -1 unconfigured, 0 whitelist, 1 blacklist
	WhiteList    string `toml:"white_list"`
	BlackList    string `toml:"black_list"`
}

// ExtraIPsConfig holds CIDR/ASN lists evaluated ahead of country rules.
// Entries are comma or newline separated: "203.0.113.0/24", "2001:db8::/32",
// "AS1234".
type ExtraIPsConfig struct {
	WhiteList string `toml:"white_list"`
	BlackList string `toml:"black_list"`
}

// GeoConfig controls geolocation lookups.
type GeoConfig struct {
	UseASN    bool          `toml:"use_asn"`
	Timeout   time.Duration `toml:"timeout"`
	RequestUA string        `toml:"request_ua"`

	// Local MaxMind databases (GeoLite2 mmdb format).
	MaxmindCityDB string `toml:"maxmind_city_db"`
	MaxmindASNDB  string `toml:"maxmind_asn_db"`
}

// CacheConfig controls the per-IP result cache.
type CacheConfig struct {
	Hold       bool          `toml:"hold"`        // persist results per IP
	Time       time.Duration `toml:"time"`        // entry lifetime
	GCInterval time.Duration `toml:"gc_interval"` // background sweep period
	ExpLogs    time.Duration `toml:"exp_logs"`    // log retention

	Backend string      `toml:"backend"` // "memory" or "redis"
	Redis   RedisConfig `toml:"redis"`
}

// RedisConfig contains Redis cache backend configuration.
type RedisConfig struct {
	Addr         string        `toml:"addr"`
	Password     string        `toml:"password"`
	DB           int           `toml:"db"`
	PoolSize     int           `toml:"pool_size"`
	DialTimeout  time.Duration `toml:"dial_timeout"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
	KeyPrefix    string        `toml:"key_prefix"`
}

// ValidationConfig selects validation mode per hook. Comment, login, xmlrpc
// and public are 0/1 switches (xmlrpc also accepts 2 = closed); admin, ajax,
// plugins and themes are bitmasks of ModeCountry|ModeZEP.
type ValidationConfig struct {
	Comment int `toml:"comment"`
	Login   int `toml:"login"`
	Admin   int `toml:"admin"`
	Ajax    int `toml:"ajax"`
	XMLRPC  int `toml:"xmlrpc"`
	Plugins int `toml:"plugins"`
	Themes  int `toml:"themes"`
	Public  int `toml:"public"`

	// Proxy lists HTTP header names (comma separated) consulted for
	// forwarded client addresses, e.g. "X-Forwarded-For".
	Proxy string `toml:"proxy"`

	// Mimetype enables upload validation: 0 off, 1 allow-listed
	// extensions only, 2 block-listed extensions.
	Mimetype int `toml:"mimetype"`
}

// LoginConfig controls failed-login throttling and which login actions are
// subject to country blocking.
type LoginConfig struct {
	// MaxFails is the failed-login threshold; -1 disables the limiter and
	// 0 blocks after the first recorded failure.
	MaxFails int `toml:"max_fails"`

	// Actions toggles blocking per login action (login, register,
	// resetpass, lostpassword, logout).
	Actions map[string]bool `toml:"actions"`
}

// ResponseConfig describes the blocking response.
type ResponseConfig struct {
	Code        int    `toml:"code"` // 2xx refresh, 3xx redirect, 4xx/5xx error
	Message     string `toml:"message"`
	RedirectURI string `toml:"redirect_uri"`
}

// PublicConfig holds the public-hook overrides and bot heuristics.
type PublicConfig struct {
	// MatchingRule/WhiteList/BlackList replace the global rules on the
	// public hook when MatchingRule is not -1.
	MatchingRule int    `toml:"matching_rule"`
	WhiteList    string `toml:"white_list"`
	BlackList    string `toml:"black_list"`

	ResponseCode int    `toml:"response_code"`
	ResponseMsg  string `toml:"response_msg"`
	RedirectURI  string `toml:"redirect_uri"`

	// TargetRule restricts public blocking to TargetPages paths.
	TargetRule  bool     `toml:"target_rule"`
	TargetPages []string `toml:"target_pages"`

	// UAList holds user-agent qualification rules, comma or newline
	// separated: "Name:qualifier" passes, "Name#qualifier" blocks.
	UAList    string `toml:"ua_list"`
	DNSLookup bool   `toml:"dns_lookup"`

	// Behavior blocks bots that request BehaviorView pages within
	// BehaviorTime of each other.
	Behavior     bool          `toml:"behavior"`
	BehaviorView int           `toml:"behavior_view"`
	BehaviorTime time.Duration `toml:"behavior_time"`
}

// MimetypeConfig lists file extensions for upload validation and the
// capabilities a user needs before uploads are accepted at all.
type MimetypeConfig struct {
	WhiteList  map[string]string `toml:"white_list"` // ext -> mime
	BlackList  []string          `toml:"black_list"`
	Capability []string          `toml:"capability"`
}

// DefaultSettings returns settings with production defaults.
func DefaultSettings() *Settings {
	return &Settings{
		Server: ServerConfig{
			Bind:    ":8380",
			AuthKey: "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Rules: RulesConfig{
			MatchingRule: RuleUnconfigured,
		},
		Providers: map[string]string{},
		Geo: GeoConfig{
			UseASN:  false,
			Timeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			Hold:       true,
			Time:       time.Hour,
			GCInterval: 15 * time.Minute,
			ExpLogs:    7 * 24 * time.Hour,
			Backend:    "memory",
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				PoolSize:     10,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
				KeyPrefix:    "geoblock:cache:",
			},
		},
		Validation: ValidationConfig{
			Comment: 1,
			Login:   1,
			XMLRPC:  1,
			Admin:   3,
			Ajax:    1,
			Plugins: 1,
			Themes:  1,
			Public:  0,
			Proxy:   "",
		},
		Login: LoginConfig{
			MaxFails: 5,
			Actions: map[string]bool{
				"login":        true,
				"register":     true,
				"resetpass":    true,
				"lostpassword": true,
				"logout":       true,
			},
		},
		Response: ResponseConfig{
			Code: 403,
		},
		Public: PublicConfig{
			MatchingRule: RuleUnconfigured,
			BehaviorView: 7,
			BehaviorTime: 5 * time.Second,
		},
		Exception: map[string][]string{},
	}
}

// Load reads a TOML file over defaults. An empty path returns defaults; a
// missing file at a given path is an error so operators notice typos.
func Load(path string) (*Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("settings file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, s); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return s, nil
}

// Save writes settings to a TOML file.
func Save(s *Settings, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(s)
}
