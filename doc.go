/*
Package owdns implements a DNS-over-HTTPS gateway: it accepts RFC 8484 wire
queries and Google/Cloudflare-style JSON queries over HTTP, normalizes them,
checks an ECS-aware cache, routes them to upstream groups by query name, and
dispatches to upstream resolvers over UDP, TCP, DNS-over-TLS, or DNS-over-HTTPS.

Resolvers

Resolvers implement name resolution with upstream servers. The TCP and
DNS-over-TLS transports keep a connection open and pipeline queries over it
(sending multiple and matching answers out-of-order as they arrive). The UDP
transport makes one exchange per query, and the DNS-over-HTTPS transport sends
each query as a request through a shared, pooled HTTP client.

Groups

Groups wrap a list of resolvers and pick among them with a selection strategy
(random with failure deactivation, or round-robin). Groups are themselves
resolvers, so the dispatcher treats a group exactly like a single upstream.

Routing

The Router matches each query's name against an ordered list of rules (exact,
wildcard, regex, file, or periodically-refetched URL matchers) and forwards
to the rule's target group, or to the reserved __blackhole__ group, which
answers NXDOMAIN without any I/O. A query matching nothing falls through to
the configured default group.

Coordinator

The Coordinator ties the pieces together for every normalized query: it
deduplicates concurrent identical queries (single-flight) and hands each one to
the cache, which forwards misses through the router to a group's dispatcher
(where the ECS policy is applied) and stores the answers. Normalizing the HTTP
request and assembling the HTTP response happen in the HTTP surface around it.
*/
package owdns
