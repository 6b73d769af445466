package main

import (
	"crypto/tls"
	"fmt"
	"time"

	owdns "github.com/folbricht/owdns-gatewayd"
	"github.com/heimdalr/dag"
)

const routerNodeID = "__router__"

// node is the DAG vertex wrapper, mirroring the teacher's Node type so the
// same leaves-first dag.DAG API can validate and order our narrower set of
// entities (resolvers, groups, and a single synthetic router vertex).
type node struct {
	id   string
	kind string // "resolver", "group", "router"
}

var _ dag.IDInterface = node{}

func (n node) ID() string { return n.id }

// built holds the fully-instantiated pipeline and anything that needs a
// clean shutdown.
type built struct {
	resolver owdns.Resolver // top-level entry point: query log -> coordinator
	cache    *owdns.Cache
	closers  []func() error
}

// build validates the reference graph between resolvers, groups and the
// router (rejecting dangling or cyclic references as a startup error, per
// the teacher's DAG-based instantiation in cmd/routedns/main.go) and
// instantiates the pipeline leaves-first: resolvers, then groups, then the
// router, then the cache and coordinator wrapping it.
func build(cfg config) (*built, error) {
	httpClient, err := buildHTTPClient(cfg.DNSResolver.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("http-client: %w", err)
	}

	graph := dag.NewDAG()
	for id := range cfg.DNSResolver.Upstream.Resolvers {
		if _, err := graph.AddVertex(node{id: id, kind: "resolver"}); err != nil {
			return nil, fmt.Errorf("resolver %q: %w", id, err)
		}
	}
	for id := range cfg.DNSResolver.Upstream.Groups {
		if _, err := graph.AddVertex(node{id: id, kind: "group"}); err != nil {
			return nil, fmt.Errorf("group %q: %w", id, err)
		}
	}
	if _, err := graph.AddVertex(node{id: routerNodeID, kind: "router"}); err != nil {
		return nil, err
	}

	for id, g := range cfg.DNSResolver.Upstream.Groups {
		for _, rid := range g.Resolvers {
			if err := graph.AddEdge(id, rid); err != nil {
				return nil, fmt.Errorf("group %q references non-existent resolver %q: %w", id, rid, err)
			}
		}
	}
	targetGroups := make(map[string]struct{})
	for _, rule := range cfg.DNSResolver.Routing.Rules {
		targetGroups[rule.TargetGroup] = struct{}{}
	}
	if cfg.DNSResolver.Routing.DefaultGroup != "" {
		targetGroups[cfg.DNSResolver.Routing.DefaultGroup] = struct{}{}
	}
	for g := range targetGroups {
		if g == owdns.BlackholeGroup {
			continue
		}
		if err := graph.AddEdge(routerNodeID, g); err != nil {
			return nil, fmt.Errorf("routing rule references non-existent group %q: %w", g, err)
		}
	}

	resolvers := make(map[string]owdns.Resolver)
	groups := make(map[string]owdns.Resolver)
	var router *owdns.Router
	var closers []func() error

	for graph.GetOrder() > 0 {
		for id, v := range graph.GetLeaves() {
			n := v.(node)
			switch n.kind {
			case "resolver":
				rc, ok := cfg.DNSResolver.Upstream.Resolvers[id]
				if !ok {
					return nil, fmt.Errorf("internal error: missing resolver config for %q", id)
				}
				r, err := instantiateResolver(id, rc, httpClient)
				if err != nil {
					return nil, fmt.Errorf("resolver %q: %w", id, err)
				}
				resolvers[id] = r
			case "group":
				gc, ok := cfg.DNSResolver.Upstream.Groups[id]
				if !ok {
					return nil, fmt.Errorf("internal error: missing group config for %q", id)
				}
				if gc.ECSPolicy == nil {
					// A group without its own ecs-policy uses the global one.
					global := cfg.DNSResolver.ECSPolicy
					gc.ECSPolicy = &global
				}
				g, err := instantiateGroup(id, gc, resolvers, groups)
				if err != nil {
					return nil, fmt.Errorf("group %q: %w", id, err)
				}
				groups[id] = g
			case "router":
				router, err = instantiateRouter(cfg.DNSResolver.Routing, groups, httpClient)
				if err != nil {
					return nil, err
				}
			}
			if err := graph.DeleteVertex(id); err != nil {
				return nil, err
			}
		}
	}

	globalECS, err := buildECSPolicy(cfg.DNSResolver.ECSPolicy)
	if err != nil {
		return nil, fmt.Errorf("ecs-policy: %w", err)
	}

	cache, err := buildCache("cache", router, cfg.DNSResolver.Cache)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	closers = append(closers, cache.Close)

	coordinator := owdns.NewCoordinator("coordinator", cache, router, globalECS)

	var top owdns.Resolver = coordinator
	if qc := cfg.DNSResolver.QueryLog; qc != nil {
		top = owdns.NewQueryLog("query-log", coordinator, owdns.QueryLogOptions{
			Network: qc.Network,
			Address: qc.Address,
			Tag:     qc.Tag,
		})
	}

	return &built{resolver: top, cache: cache, closers: closers}, nil
}

func buildHTTPClient(cfg httpClientConfig) (*owdns.DoHClientOptions, error) {
	var tlsConfig *tls.Config
	if cfg.CAFile != "" {
		opt := owdns.ClientTLSOptions{CAFile: cfg.CAFile}
		tc, err := opt.Config()
		if err != nil {
			return nil, err
		}
		tlsConfig = tc
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 10
	}
	idleTimeout := time.Duration(cfg.IdleTimeoutSecs) * time.Second
	if idleTimeout == 0 {
		idleTimeout = 90 * time.Second
	}
	client, err := owdns.NewSharedHTTPClient(tlsConfig, maxIdle, idleTimeout)
	if err != nil {
		return nil, err
	}
	return &owdns.DoHClientOptions{Client: client}, nil
}

func instantiateResolver(id string, rc resolverConfig, sharedHTTP *owdns.DoHClientOptions) (owdns.Resolver, error) {
	timeout := time.Duration(rc.QueryTimeoutSecs) * time.Second

	switch rc.Protocol {
	case "udp":
		return owdns.NewUDPClient(id, rc.Address, timeout), nil
	case "tcp":
		return owdns.NewTCPClient(id, rc.Address, timeout), nil
	case "dot":
		tlsOpt := owdns.ClientTLSOptions{
			CAFile:        rc.TLS.CAFile,
			ClientCrtFile: rc.TLS.ClientCrtFile,
			ClientKeyFile: rc.TLS.ClientKeyFile,
		}
		return owdns.NewDoTClient(id, rc.Address, owdns.DoTClientOptions{
			TLS:          tlsOpt,
			QueryTimeout: timeout,
		})
	case "doh":
		opt := owdns.DoHClientOptions{QueryTimeout: timeout}
		if rc.DoHMethod != "" {
			opt.Method = rc.DoHMethod
		}
		if sharedHTTP != nil {
			opt.Client = sharedHTTP.Client
		}
		return owdns.NewDoHClient(id, rc.Address, opt)
	default:
		return nil, fmt.Errorf("unsupported protocol %q", rc.Protocol)
	}
}

func instantiateGroup(id string, gc groupConfig, resolvers, groups map[string]owdns.Resolver) (owdns.Resolver, error) {
	var members []owdns.Resolver
	for _, rid := range gc.Resolvers {
		if r, ok := resolvers[rid]; ok {
			members = append(members, r)
			continue
		}
		if g, ok := groups[rid]; ok {
			members = append(members, g)
			continue
		}
		return nil, fmt.Errorf("references non-existent resolver or group %q", rid)
	}

	ecsPolicy, err := buildECSPolicy(ecsPolicyConfigOrZero(gc.ECSPolicy))
	if err != nil {
		return nil, fmt.Errorf("ecs-policy: %w", err)
	}
	opt := owdns.GroupOptions{
		DispatcherOptions: owdns.DispatcherOptions{
			EnableDNSSEC: gc.EnableDNSSEC,
			QueryTimeout: time.Duration(gc.QueryTimeoutSecs) * time.Second,
			ECSPolicy:    ecsPolicy,
		},
	}
	switch gc.Strategy {
	case "round_robin":
		opt.Strategy = owdns.StrategyRoundRobin
	case "random", "":
		opt.Strategy = owdns.StrategyRandom
		if gc.ResetAfterSecs > 0 {
			opt.RandomOptions.ResetAfter = time.Duration(gc.ResetAfterSecs) * time.Second
		}
	default:
		return nil, fmt.Errorf("unsupported strategy %q", gc.Strategy)
	}

	return owdns.NewGroup(id, opt, members...)
}

func ecsPolicyConfigOrZero(c *ecsPolicyConfig) ecsPolicyConfig {
	if c == nil {
		return ecsPolicyConfig{}
	}
	return *c
}

func buildECSPolicy(c ecsPolicyConfig) (owdns.ECSPolicy, error) {
	policy := owdns.ECSPolicy{
		IPv4PrefixLength: c.IPv4PrefixLength,
		IPv6PrefixLength: c.IPv6PrefixLength,
	}
	switch c.Kind {
	case "", "strip":
		policy.Kind = owdns.ECSStrip
	case "forward":
		policy.Kind = owdns.ECSForward
	case "anonymize":
		policy.Kind = owdns.ECSAnonymize
	default:
		return policy, fmt.Errorf("unsupported ecs-policy kind %q", c.Kind)
	}
	return policy, nil
}

func instantiateRouter(rc routingConfig, groups map[string]owdns.Resolver, sharedHTTP *owdns.DoHClientOptions) (*owdns.Router, error) {
	router := owdns.NewRouter("router")
	for name, g := range groups {
		router.AddGroup(name, g)
	}

	var rules []*owdns.RoutingRule
	for _, rule := range rc.Rules {
		matcher, err := buildMatcher(rule.Matcher, sharedHTTP)
		if err != nil {
			return nil, fmt.Errorf("routing rule %q: %w", rule.Description, err)
		}
		r, err := owdns.NewRoutingRule(matcher, rule.TargetGroup, rule.Description)
		if err != nil {
			return nil, fmt.Errorf("routing rule %q: %w", rule.Description, err)
		}
		rules = append(rules, r)
	}
	if rc.DefaultGroup != "" && rc.DefaultGroup != owdns.BlackholeGroup {
		if _, ok := groups[rc.DefaultGroup]; !ok {
			return nil, fmt.Errorf("default-group references non-existent group %q", rc.DefaultGroup)
		}
	}
	router.SetTable(rules, rc.DefaultGroup)
	return router, nil
}

func buildMatcher(mc matcherConfig, sharedHTTP *owdns.DoHClientOptions) (owdns.Matcher, error) {
	switch mc.Type {
	case "exact":
		return owdns.NewExactMatcher(mc.Names), nil
	case "wildcard":
		return owdns.NewWildcardMatcher(mc.Names), nil
	case "regexp":
		return owdns.NewRegexpMatcher(mc.Names)
	case "file":
		return owdns.NewFileMatcher(mc.Path)
	case "url":
		opt := owdns.URLMatcherOptions{
			RefreshSecs:  mc.RefreshSecs,
			AllowFailure: mc.AllowFailure,
		}
		if sharedHTTP != nil {
			opt.Client = sharedHTTP.Client
		}
		return owdns.NewURLMatcher(mc.URL, opt)
	default:
		return nil, fmt.Errorf("unsupported matcher type %q", mc.Type)
	}
}

func buildCache(id string, router *owdns.Router, cc cacheConfig) (*owdns.Cache, error) {
	opt := owdns.CacheOptions{
		Capacity:    cc.Capacity,
		TTLMin:      cc.TTLMin,
		TTLMax:      cc.TTLMax,
		TTLNegative: cc.TTLNegative,
	}
	switch cc.Shuffle {
	case "", "none":
	case "random":
		opt.ShuffleAnswerFunc = owdns.AnswerShuffleRandom
	default:
		return nil, fmt.Errorf("unsupported answer-shuffle %q", cc.Shuffle)
	}
	if cc.Persistence != nil {
		opt.Snapshot.Path = cc.Persistence.Path
	}
	if cc.Periodic != nil {
		opt.Snapshot.IntervalSecs = cc.Periodic.IntervalSecs
		opt.Snapshot.ShutdownSaveTimeoutSecs = cc.Periodic.ShutdownSaveTimeoutSecs
		opt.Snapshot.MaxItemsToSave = cc.Periodic.MaxItemsToSave
	}
	return owdns.NewCache(id, router, opt), nil
}
