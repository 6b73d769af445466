package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// config is the top-level YAML document shape from spec.md §6: http-server
// plumbing, then dns-resolver carrying every core-pipeline setting.
type config struct {
	HTTPServer  httpServerConfig  `yaml:"http-server"`
	DNSResolver dnsResolverConfig `yaml:"dns-resolver"`
}

type httpServerConfig struct {
	Listen             string   `yaml:"listen"`
	TLSCert            string   `yaml:"tls-cert"`
	TLSKey             string   `yaml:"tls-key"`
	TrustedProxyHeader string   `yaml:"trusted-proxy-header"`
	TrustedProxies     []string `yaml:"trusted-proxies"`
}

type dnsResolverConfig struct {
	HTTPClient httpClientConfig `yaml:"http-client"`
	Cache      cacheConfig      `yaml:"cache"`
	Upstream   upstreamConfig   `yaml:"upstream"`
	ECSPolicy  ecsPolicyConfig  `yaml:"ecs-policy"`
	Routing    routingConfig    `yaml:"routing"`
	QueryLog   *queryLogConfig  `yaml:"query-log"`
}

type httpClientConfig struct {
	MaxIdleConns    int    `yaml:"max-idle-conns"`
	IdleTimeoutSecs int    `yaml:"idle-timeout-secs"`
	CAFile          string `yaml:"ca-file"`
}

type cacheConfig struct {
	Capacity    int                `yaml:"capacity"`
	TTLMin      uint32             `yaml:"ttl-min"`
	TTLMax      uint32             `yaml:"ttl-max"`
	TTLNegative uint32             `yaml:"ttl-negative"`
	Shuffle     string             `yaml:"answer-shuffle"` // "", "random"
	Persistence *persistenceConfig `yaml:"persistence"`
	Periodic    *periodicConfig    `yaml:"periodic"`
}

type persistenceConfig struct {
	Path string `yaml:"path"`
}

type periodicConfig struct {
	IntervalSecs            int `yaml:"interval-secs"`
	ShutdownSaveTimeoutSecs int `yaml:"shutdown-save-timeout-secs"`
	MaxItemsToSave          int `yaml:"max-items-to-save"`
}

type upstreamConfig struct {
	Resolvers map[string]resolverConfig `yaml:"resolvers"`
	Groups    map[string]groupConfig    `yaml:"groups"`
}

type resolverConfig struct {
	Protocol         string          `yaml:"protocol"` // udp, tcp, dot, doh
	Address          string          `yaml:"address"`
	QueryTimeoutSecs int             `yaml:"query-timeout-secs"`
	TLS              clientTLSConfig `yaml:"tls"`
	DoHMethod        string          `yaml:"doh-method"`
}

type clientTLSConfig struct {
	CAFile        string `yaml:"ca-file"`
	ClientCrtFile string `yaml:"client-crt-file"`
	ClientKeyFile string `yaml:"client-key-file"`
}

type groupConfig struct {
	Resolvers        []string         `yaml:"resolvers"`
	Strategy         string           `yaml:"strategy"` // "random" (default), "round_robin"
	ResetAfterSecs   int              `yaml:"reset-after-secs"`
	EnableDNSSEC     bool             `yaml:"enable-dnssec"`
	QueryTimeoutSecs int              `yaml:"query-timeout-secs"`
	ECSPolicy        *ecsPolicyConfig `yaml:"ecs-policy"`
}

type ecsPolicyConfig struct {
	Kind             string `yaml:"kind"` // strip (default), forward, anonymize
	IPv4PrefixLength uint8  `yaml:"ipv4-prefix-length"`
	IPv6PrefixLength uint8  `yaml:"ipv6-prefix-length"`
}

type routingConfig struct {
	Rules        []ruleConfig `yaml:"rules"`
	DefaultGroup string       `yaml:"default-group"`
}

type ruleConfig struct {
	TargetGroup string        `yaml:"target-group"`
	Description string        `yaml:"description"`
	Matcher     matcherConfig `yaml:"matcher"`
}

type matcherConfig struct {
	Type           string   `yaml:"type"` // exact, wildcard, regexp, file, url
	Names          []string `yaml:"names"`
	Path           string   `yaml:"path"`
	URL            string   `yaml:"url"`
	RefreshSecs    int      `yaml:"refresh-secs"`
	AllowFailure   bool     `yaml:"allow-failure"`
}

type queryLogConfig struct {
	Network string `yaml:"network"` // "udp", "tcp", "unix"; empty disables the syslog sink
	Address string `yaml:"address"`
	Tag     string `yaml:"tag"`
}

// loadConfig reads and merges one or more YAML config files, in argument
// order, matching the teacher's multi-file loadConfig shape. Unlike the
// teacher's TOML buffer-concatenation (which relies on TOML tables being
// mergeable by simple text concatenation), each YAML file is decoded on its
// own and merged section by section (see mergeConfig), since naively
// concatenating YAML documents
// would just produce a multi-document stream, not a merged mapping.
func loadConfig(names ...string) (config, error) {
	var merged config
	for _, name := range names {
		b, err := os.ReadFile(name)
		if err != nil {
			return merged, fmt.Errorf("read config %q: %w", name, err)
		}
		var c config
		if err := yaml.Unmarshal(b, &c); err != nil {
			return merged, fmt.Errorf("parse config %q: %w", name, err)
		}
		mergeConfig(&merged, c)
	}
	return merged, nil
}

// mergeConfig folds src into dst: the resolver and group maps are merged
// key-by-key (src wins on collision), rules are appended, and default-group is
// overwritten when src sets it. The http-server, cache, http-client and
// ecs-policy sections are replaced as a whole when src sets, respectively,
// listen, capacity or ttl-negative, max-idle-conns, or kind; otherwise src's
// values for that section are ignored. query-log is replaced whenever src has
// one.
func mergeConfig(dst *config, src config) {
	if src.HTTPServer.Listen != "" {
		dst.HTTPServer = src.HTTPServer
	}
	if dst.DNSResolver.Upstream.Resolvers == nil {
		dst.DNSResolver.Upstream.Resolvers = make(map[string]resolverConfig)
	}
	if dst.DNSResolver.Upstream.Groups == nil {
		dst.DNSResolver.Upstream.Groups = make(map[string]groupConfig)
	}
	for id, r := range src.Upstream().Resolvers {
		dst.DNSResolver.Upstream.Resolvers[id] = r
	}
	for id, g := range src.Upstream().Groups {
		dst.DNSResolver.Upstream.Groups[id] = g
	}
	dst.DNSResolver.Routing.Rules = append(dst.DNSResolver.Routing.Rules, src.DNSResolver.Routing.Rules...)
	if src.DNSResolver.Routing.DefaultGroup != "" {
		dst.DNSResolver.Routing.DefaultGroup = src.DNSResolver.Routing.DefaultGroup
	}
	if src.DNSResolver.Cache.Capacity != 0 || src.DNSResolver.Cache.TTLNegative != 0 {
		dst.DNSResolver.Cache = src.DNSResolver.Cache
	}
	if src.DNSResolver.HTTPClient.MaxIdleConns != 0 {
		dst.DNSResolver.HTTPClient = src.DNSResolver.HTTPClient
	}
	if src.DNSResolver.ECSPolicy.Kind != "" {
		dst.DNSResolver.ECSPolicy = src.DNSResolver.ECSPolicy
	}
	if src.DNSResolver.QueryLog != nil {
		dst.DNSResolver.QueryLog = src.DNSResolver.QueryLog
	}
}

// Upstream is a small accessor so mergeConfig can read src's maps through a
// value receiver without repeating the nested field path everywhere above.
func (c config) Upstream() upstreamConfig { return c.DNSResolver.Upstream }
