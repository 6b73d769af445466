package owdns

import (
	"github.com/miekg/dns"
)

// jsonQuestion is one entry of a Google/Cloudflare DNS-JSON "Question" array.
type jsonQuestion struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
}

// jsonRR is one entry of a Google/Cloudflare DNS-JSON answer/authority/
// additional array.
type jsonRR struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
	TTL  uint32 `json:"TTL"`
	Data string `json:"data"`
}

// JSONMessage is the Google/Cloudflare DNS-over-HTTPS JSON response schema
// emitted by /resolve, per spec.md §4.7/§6.
type JSONMessage struct {
	Status     int            `json:"Status"`
	TC         bool           `json:"TC"`
	RD         bool           `json:"RD"`
	RA         bool           `json:"RA"`
	AD         bool           `json:"AD"`
	CD         bool           `json:"CD"`
	Question   []jsonQuestion `json:"Question"`
	Answer     []jsonRR       `json:"Answer,omitempty"`
	Authority  []jsonRR       `json:"Authority,omitempty"`
	Additional []jsonRR       `json:"Additional,omitempty"`
	Comment    string         `json:"Comment,omitempty"`
}

// Assembler re-serialises a resolved answer back to the shape the original
// request arrived in, per spec.md §4.7.
type Assembler struct{}

// NewAssembler returns an Assembler. It carries no state; its methods are
// pure functions of (request, answer).
func NewAssembler() *Assembler { return &Assembler{} }

// Wire packs answer into RFC 8484 wire format, with the original request's
// ID restored (the coordinator may have used a different ID internally for
// single-flight sharing).
func (Assembler) Wire(requestID uint16, answer *dns.Msg) ([]byte, error) {
	out := answer.Copy()
	out.Id = requestID
	packed, err := out.Pack()
	if err != nil {
		return nil, wrapError(KindBadRequest, err, "pack response")
	}
	return packed, nil
}

// JSON builds the Google/Cloudflare JSON schema response for answer, which
// answered request.
func (Assembler) JSON(request, answer *dns.Msg) *JSONMessage {
	msg := &JSONMessage{
		Status: answer.Rcode,
		TC:     answer.Truncated,
		RD:     request.RecursionDesired,
		RA:     answer.RecursionAvailable,
		AD:     answer.AuthenticatedData,
		CD:     request.CheckingDisabled,
	}
	for _, q := range answer.Question {
		msg.Question = append(msg.Question, jsonQuestion{Name: q.Name, Type: q.Qtype})
	}
	msg.Answer = toJSONRRs(answer.Answer)
	msg.Authority = toJSONRRs(answer.Ns)
	msg.Additional = toJSONRRs(filterOPT(answer.Extra))
	return msg
}

func toJSONRRs(rrs []dns.RR) []jsonRR {
	out := make([]jsonRR, 0, len(rrs))
	for _, rr := range rrs {
		if _, ok := rr.(*dns.OPT); ok {
			continue
		}
		h := rr.Header()
		out = append(out, jsonRR{
			Name: h.Name,
			Type: h.Rrtype,
			TTL:  h.Ttl,
			Data: rrDataString(rr),
		})
	}
	return out
}

func filterOPT(rrs []dns.RR) []dns.RR {
	out := make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		if _, ok := rr.(*dns.OPT); ok {
			continue
		}
		out = append(out, rr)
	}
	return out
}

// rrDataString returns the RR's value portion only, stripping the owner
// name/class/type/ttl fields the JSON schema already carries separately.
func rrDataString(rr dns.RR) string {
	full := rr.String()
	h := rr.Header()
	prefix := h.String()
	if len(full) > len(prefix) {
		return full[len(prefix):]
	}
	return full
}
