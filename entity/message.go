package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Header keys set on each outbound Message
const (
	HeaderContentType = "contentType"
	HeaderId          = "id"
	HeaderTimestamp   = "timestamp"
	HeaderSourceUrl   = "sourceUrl"
	HeaderRowNumber   = "rowNumber"
)

const DefaultContentType = "application/json"

// Row is a single parsed CSV data record keyed by the header record. Values are in header
// column order. A record shorter than the header only carries its present columns, and
// columns beyond the header are dropped by the parser.
type Row struct {
	// Number is the 1-based position of the record among the data records (header excluded)
	Number int
	Header []string
	Values []string
}

// Len returns the number of header-keyed fields present in the row
func (r Row) Len() int {
	if len(r.Values) < len(r.Header) {
		return len(r.Values)
	}
	return len(r.Header)
}

// Each calls fn for every field in header order.
func (r Row) Each(fn func(key, value string)) {
	n := r.Len()
	for i := 0; i < n; i++ {
		fn(r.Header[i], r.Values[i])
	}
}

// Map returns the row as a header-keyed map
func (r Row) Map() map[string]string {
	m := make(map[string]string, r.Len())
	r.Each(func(key, value string) {
		m[key] = value
	})
	return m
}

// ProjectedRow is the filtered and renamed field map emitted for a Row
type ProjectedRow map[string]string

// Message is the outbound message created for each ProjectedRow
type Message struct {
	Payload ProjectedRow      `json:"payload"`
	Headers map[string]string `json:"headers"`
}

// NewMessage creates a Message with a generated id, creation timestamp and the provided
// content type.
func NewMessage(payload ProjectedRow, contentType string) *Message {
	return &Message{
		Payload: payload,
		Headers: map[string]string{
			HeaderId:          uuid.New().String(),
			HeaderTimestamp:   strconv.FormatInt(time.Now().UnixMilli(), 10),
			HeaderContentType: contentType,
		},
	}
}

func (m *Message) ContentType() string {
	return m.Headers[HeaderContentType]
}

func (m *Message) Id() string {
	return m.Headers[HeaderId]
}

// PayloadJSON returns the payload as a JSON object, with keys sorted
func (m *Message) PayloadJSON() ([]byte, error) {
	return json.Marshal(m.Payload)
}

func (m *Message) String() string {
	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString("{ headers: { ")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%q: %q", k, m.Headers[k]))
	}
	payload, err := m.PayloadJSON()
	if err != nil {
		payload = []byte(fmt.Sprintf("ERROR: %v", err))
	}
	sb.WriteString(" }, payload: ")
	sb.Write(payload)
	sb.WriteString(" }")
	return sb.String()
}
