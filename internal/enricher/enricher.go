package enricher

import (
	"net"
	"time"

	"github.com/mssola/useragent"
	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"
)

type Enricher struct {
	geoIP *geoip2.Reader
	now   func() time.Time
}

func NewEnricher(geoIPPath string) *Enricher {
	var geoIP *geoip2.Reader
	if geoIPPath != "" {
		var err error
		geoIP, err = geoip2.Open(geoIPPath)
		if err != nil {
			log.Warn().Err(err).Str("path", geoIPPath).Msg("GeoIP database unavailable, skipping geo enrichment")
		}
	}

	return &Enricher{
		geoIP: geoIP,
		now:   time.Now,
	}
}

// PointerRecord is one card pointer record as written to Kafka. The card id
// and pointer position are lifted out of the payload so consumers can key and
// filter records without decoding it; the payload keeps the full card.
type PointerRecord struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`

	SuggestionID string                 `json:"suggestion_id,omitempty"`
	X            *float64               `json:"x,omitempty"`
	Y            *float64               `json:"y,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`

	ReceivedAt int64 `json:"server_timestamp"`
	Client
}

// Client is what the ingestor learns about the browser from the request
type Client struct {
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	OS             string `json:"os"`
	DeviceType     string `json:"device_type"`
	Country        string `json:"country"`
	City           string `json:"city"`
	ClientIP       string `json:"client_ip,omitempty"`
}

// Enrich stamps a validated SDK record with its receive time and the client
// details taken from the request.
func (e *Enricher) Enrich(event map[string]interface{}, userAgent, clientIP string) *PointerRecord {
	rec := &PointerRecord{
		EventID:    stringField(event, "event_id"),
		Type:       stringField(event, "type"),
		Timestamp:  millis(event["timestamp"]),
		ProjectID:  stringField(event, "project_id"),
		SessionID:  stringField(event, "session_id"),
		UserID:     stringField(event, "user_id"),
		ReceivedAt: e.now().UnixMilli(),
		Client:     e.client(userAgent, clientIP),
	}

	if payload, ok := event["payload"].(map[string]interface{}); ok {
		rec.Payload = payload
		rec.SuggestionID = cardID(payload)
		rec.X = coord(payload, "x")
		rec.Y = coord(payload, "y")
	}
	return rec
}

func (e *Enricher) client(userAgent, clientIP string) Client {
	c := Client{ClientIP: clientIP}

	if userAgent != "" {
		ua := useragent.New(userAgent)
		c.Browser, c.BrowserVersion = ua.Browser()
		c.OS = ua.OS()
		c.DeviceType = deviceType(ua)
	}

	if e.geoIP == nil || clientIP == "" {
		return c
	}
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return c
	}
	city, err := e.geoIP.City(ip)
	if err != nil {
		log.Debug().Err(err).Str("ip", clientIP).Msg("GeoIP lookup failed")
		return c
	}
	c.Country = city.Country.IsoCode
	c.City = city.City.Names["en"]
	return c
}

// cardID resolves the card a record belongs to: the embedded card's id, its
// url when the SDK sent no id, or a bare suggestion_id.
func cardID(payload map[string]interface{}) string {
	if card, ok := payload["suggestion"].(map[string]interface{}); ok {
		if id := stringField(card, "id"); id != "" {
			return id
		}
		return stringField(card, "url")
	}
	return stringField(payload, "suggestion_id")
}

func coord(payload map[string]interface{}, key string) *float64 {
	v, ok := payload[key].(float64)
	if !ok {
		return nil
	}
	return &v
}

func millis(v interface{}) int64 {
	if f, ok := v.(float64); ok {
		return int64(f)
	}
	return 0
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func deviceType(ua *useragent.UserAgent) string {
	switch {
	case ua.Mobile():
		return "mobile"
	case ua.Bot():
		return "bot"
	}
	return "desktop"
}

func (e *Enricher) Close() {
	if e.geoIP != nil {
		e.geoIP.Close()
	}
}
