package backend

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/soyeahso/courier/internal/config"
	"github.com/soyeahso/courier/internal/logging"
)

// Status is the normalized shipment state.
type Status string

const (
	StatusDelivered      Status = "DELIVERED"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusInTransit      Status = "IN_TRANSIT"
	StatusException      Status = "EXCEPTION"
	StatusUnknown        Status = "UNKNOWN"
)

// Per-AWB failure codes carried on a TrackingResult.
const (
	CodeAPIError   = "API_ERROR"   // transport failure, bad status or SOAP fault
	CodeParseError = "PARSE_ERROR" // response could not be decoded
	CodeNotFound   = "NOT_FOUND"   // no events recorded for the AWB
)

// trackAction is the SOAPAction of the single-AWB lookup.
const trackAction = "http://tempuri.org/iTrack/getSMSATrackingDetails"

// maxConcurrentLookups bounds parallel SOAP calls per Track.
const maxConcurrentLookups = 5

// Checkpoint is one scan event, newest first in TrackingResult.
type Checkpoint struct {
	Timestamp   time.Time `json:"timestamp,omitempty"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	StatusCode  string    `json:"statusCode,omitempty"`
	Country     string    `json:"country,omitempty"`
}

// TrackingResult is the state of one AWB.
type TrackingResult struct {
	AWB             string       `json:"awb"`
	Status          Status       `json:"status"`
	StatusText      string       `json:"statusText,omitempty"`
	StatusCode      string       `json:"statusCode,omitempty"`
	CurrentLocation string       `json:"currentLocation,omitempty"`
	Country         string       `json:"country,omitempty"`
	LastUpdate      time.Time    `json:"lastUpdate,omitempty"`
	Checkpoints     []Checkpoint `json:"checkpoints"`
	ErrorCode       string       `json:"errorCode,omitempty"`
	ErrorMessage    string       `json:"errorMessage,omitempty"`
}

// Failed reports whether the lookup itself failed, as opposed to
// returning a shipment state.
func (r TrackingResult) Failed() bool {
	return r.ErrorCode == CodeAPIError || r.ErrorCode == CodeParseError
}

// Summary renders the result as plain text.
func (r TrackingResult) Summary() string {
	if r.ErrorCode == CodeNotFound {
		return fmt.Sprintf("AWB %s: no tracking events found", r.AWB)
	}
	if r.Failed() {
		return fmt.Sprintf("AWB %s: tracking is unavailable right now", r.AWB)
	}

	var b strings.Builder
	status := r.StatusText
	if status == "" {
		status = string(r.Status)
	}
	loc := r.CurrentLocation
	if loc == "" {
		loc = "N/A"
	}
	fmt.Fprintf(&b, "AWB %s: %s (location: %s)", r.AWB, status, loc)
	if !r.LastUpdate.IsZero() {
		fmt.Fprintf(&b, "\nLast update: %s", r.LastUpdate.Format(time.DateTime))
	}
	if n := min(len(r.Checkpoints), 3); n > 0 {
		b.WriteString("\nRecent events:")
		for _, cp := range r.Checkpoints[:n] {
			fmt.Fprintf(&b, "\n- %s @ %s", cp.Description, cp.Location)
			if !cp.Timestamp.IsZero() {
				fmt.Fprintf(&b, " (%s)", cp.Timestamp.Format(time.DateTime))
			}
		}
	}
	return b.String()
}

// SMSATracker calls the SOAP tracking service.
type SMSATracker struct {
	url      string
	username string
	password string
	language string
	http     *retryablehttp.Client
	log      *logging.Logger
}

// NewSMSATracker creates a tracking client from config.
func NewSMSATracker(cfg config.TrackingBackend, log *logging.Logger) *SMSATracker {
	l := log.Sub("tracking-backend")
	url := cfg.URL
	if url == "" {
		url = config.DefaultTrackingURL
	}
	lang := cfg.Language
	if lang == "" {
		lang = "En"
	}
	return &SMSATracker{
		url:      url,
		username: cfg.Username,
		password: cfg.Password,
		language: lang,
		http:     newHTTPClient(cfg.Timeout, l),
		log:      l,
	}
}

// Track looks up each AWB concurrently. Per-AWB failures are reported on
// the result; the error is non-nil only when ctx ends first.
func (t *SMSATracker) Track(ctx context.Context, awbs []string) ([]TrackingResult, error) {
	results := make([]TrackingResult, len(awbs))
	sem := make(chan struct{}, maxConcurrentLookups)
	var wg sync.WaitGroup

	for i, awb := range awbs {
		wg.Add(1)
		go func(i int, awb string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = failed(awb, CodeAPIError, ctx.Err())
				return
			}
			results[i] = t.trackOne(ctx, awb)
		}(i, awb)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (t *SMSATracker) trackOne(ctx context.Context, awb string) TrackingResult {
	start := time.Now()
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", t.url, t.envelope(awb))
	if err != nil {
		return failed(awb, CodeAPIError, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", trackAction)

	resp, err := t.http.Do(req)
	if err != nil {
		t.log.Warn().Err(err).Str("awb", awb).Msg("tracking request failed")
		return failed(awb, CodeAPIError, err)
	}
	body, err := readBody("tracking", resp)
	if err != nil {
		// SOAP faults arrive with HTTP 500; prefer the fault text.
		if msg := faultString(body); msg != "" {
			err = fmt.Errorf("soap fault: %s", msg)
		}
		t.log.Warn().Err(err).Str("awb", awb).Msg("tracking request failed")
		return failed(awb, CodeAPIError, err)
	}

	result := parseTracking(awb, body)
	t.log.Debug().
		Str("awb", awb).
		Str("status", string(result.Status)).
		Str("errorCode", result.ErrorCode).
		Dur("took", time.Since(start)).
		Msg("tracking lookup")
	return result
}

func (t *SMSATracker) envelope(awb string) []byte {
	var b bytes.Buffer
	b.WriteString(`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:tem="http://tempuri.org/">`)
	b.WriteString(`<soapenv:Header/><soapenv:Body><tem:getSMSATrackingDetails>`)
	for _, f := range [][2]string{
		{"lang", t.language},
		{"awb", awb},
		{"username", t.username},
		{"password", t.password},
	} {
		b.WriteString("<tem:" + f[0] + ">")
		xml.EscapeText(&b, []byte(f[1]))
		b.WriteString("</tem:" + f[0] + ">")
	}
	b.WriteString(`</tem:getSMSATrackingDetails></soapenv:Body></soapenv:Envelope>`)
	return b.Bytes()
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type trackEvent struct {
	EventDesc   string `xml:"EventDesc"`
	Office      string `xml:"Office"`
	EventTime   string `xml:"EventTime"`
	StatusCode  string `xml:"StatusCode"`
	CountryCode string `xml:"CountryCode"`
}

type trackEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault    *soapFault `xml:"Fault"`
		Response *struct {
			Result *struct {
				Events []trackEvent `xml:"TrackRslt"`
			} `xml:"getSMSATrackingDetailsResult"`
		} `xml:"getSMSATrackingDetailsResponse"`
	} `xml:"Body"`
}

func faultString(body []byte) string {
	var env trackEnvelope
	if xml.Unmarshal(body, &env) != nil || env.Body.Fault == nil {
		return ""
	}
	if env.Body.Fault.String != "" {
		return env.Body.Fault.String
	}
	return "unknown SOAP fault"
}

// parseTracking decodes a SOAP response. The first TrackRslt is the
// latest event.
func parseTracking(awb string, body []byte) TrackingResult {
	var env trackEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return failed(awb, CodeParseError, fmt.Errorf("decode soap: %w", err))
	}
	if f := env.Body.Fault; f != nil {
		msg := f.String
		if msg == "" {
			msg = "unknown SOAP fault"
		}
		return failed(awb, CodeAPIError, fmt.Errorf("soap fault: %s", msg))
	}
	if env.Body.Response == nil || env.Body.Response.Result == nil {
		return failed(awb, CodeParseError, fmt.Errorf("no tracking result in response"))
	}
	events := env.Body.Response.Result.Events
	if len(events) == 0 {
		return TrackingResult{
			AWB:          awb,
			Status:       StatusUnknown,
			Checkpoints:  []Checkpoint{},
			ErrorCode:    CodeNotFound,
			ErrorMessage: "no tracking events found for this AWB",
		}
	}

	latest := events[0]
	code := strings.ToUpper(strings.TrimSpace(latest.StatusCode))
	r := TrackingResult{
		AWB:             awb,
		Status:          MapStatus(code),
		StatusText:      FriendlyStatus(code, latest.EventDesc),
		StatusCode:      code,
		CurrentLocation: orDefault(latest.Office, "N/A"),
		Country:         latest.CountryCode,
		LastUpdate:      parseEventTime(latest.EventTime),
		Checkpoints:     make([]Checkpoint, 0, len(events)),
	}
	for _, ev := range events {
		r.Checkpoints = append(r.Checkpoints, Checkpoint{
			Timestamp:   parseEventTime(ev.EventTime),
			Location:    orDefault(ev.Office, "Unknown location"),
			Description: orDefault(ev.EventDesc, "Status update"),
			StatusCode:  ev.StatusCode,
			Country:     ev.CountryCode,
		})
	}
	return r
}

var eventTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseEventTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// MapStatus folds a carrier status code into a Status.
func MapStatus(code string) Status {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "DLV", "DEL", "DELIVERED":
		return StatusDelivered
	case "OFD", "OUT FOR DELIVERY":
		return StatusOutForDelivery
	case "PU", "PICKUP", "AF", "ARRIVED", "HIP", "HOP", "INT", "TRANSIT":
		return StatusInTransit
	case "RTS", "RTN", "RETURNED", "DEX14", "DEX29", "HOLD", "CAN", "CANCELLED":
		return StatusException
	}
	return StatusUnknown
}

var friendlyStatus = map[string]string{
	"DLV":              "Delivered",
	"DEL":              "Delivered",
	"DELIVERED":        "Delivered",
	"RTS":              "Returned to Shipper",
	"RTN":              "Returned",
	"RETURNED":         "Returned",
	"PU":               "Picked Up",
	"PICKUP":           "Picked Up",
	"AF":               "Arrived at Facility",
	"ARRIVED":          "Arrived at Facility",
	"HIP":              "At Sorting Hub",
	"HOP":              "Departed Hub",
	"INT":              "In Transit",
	"TRANSIT":          "In Transit",
	"OFD":              "Out for Delivery",
	"OUT FOR DELIVERY": "Out for Delivery",
	"DEX14":            "Return in Progress",
	"DEX29":            "Rerouted",
	"RTI":              "Ready for Collection",
	"RTOPS":            "Collected from Retail",
	"SMS":              "SMS Notification Sent",
	"HOLD":             "On Hold",
	"CAN":              "Cancelled",
	"CANCELLED":        "Cancelled",
}

// FriendlyStatus returns display text for a status code, falling back to
// the carrier's event description.
func FriendlyStatus(code, desc string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if s, ok := friendlyStatus[code]; ok {
		return s
	}
	if desc != "" && desc != "Unknown" {
		return desc
	}
	if code != "" {
		return code
	}
	return string(StatusUnknown)
}

func failed(awb, code string, err error) TrackingResult {
	return TrackingResult{
		AWB:          awb,
		Status:       StatusException,
		Checkpoints:  []Checkpoint{},
		ErrorCode:    code,
		ErrorMessage: err.Error(),
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
