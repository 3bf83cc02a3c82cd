package telephony

import (
	"fmt"
	"net/http"
	"net/url"
)

// twimlTemplate is the telephony markup document returned from the
// call-initiation webhook. It directs the provider to open the
// media-stream socket back at this process.
const twimlTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<Response><Connect><Stream url="%s"/></Connect></Response>`

// StreamURLParams carries the fields forwarded from the inbound webhook into
// the media-stream socket's query string.
type StreamURLParams struct {
	Direction    string
	AnsweredBy   string
	CustomerName string
	PhoneNumber  string
}

// BuildStreamURL constructs the wss:// URL the TwiML directive points the
// telephony provider at, carrying call metadata as query parameters the
// socket handler reads on accept.
func BuildStreamURL(host, path string, p StreamURLParams) string {
	q := url.Values{}
	q.Set("direction", p.Direction)
	q.Set("answered_by", p.AnsweredBy)
	q.Set("customer_name", p.CustomerName)
	q.Set("phone_number", p.PhoneNumber)
	u := url.URL{Scheme: "wss", Host: host, Path: path, RawQuery: q.Encode()}
	return u.String()
}

// IncomingCallHandler returns an http.HandlerFunc implementing the inbound
// webhook: it reads AnsweredBy from the form body and direction,
// customer_name, phone_number from the query string, then responds with a
// TwiML document pointing back at streamPath on this host.
func IncomingCallHandler(streamPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		direction := r.URL.Query().Get("direction")
		if direction == "" {
			direction = "inbound"
		}
		customerName := r.URL.Query().Get("customer_name")
		phoneNumber := r.URL.Query().Get("phone_number")
		answeredBy := r.FormValue("AnsweredBy")

		streamURL := BuildStreamURL(r.Host, streamPath, StreamURLParams{
			Direction:    direction,
			AnsweredBy:   answeredBy,
			CustomerName: customerName,
			PhoneNumber:  phoneNumber,
		})

		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, twimlTemplate, streamURL)
	}
}
