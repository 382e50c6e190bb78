package ical

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Event is a booking flattened into what the feed needs.
type Event struct {
	UUID      string
	Title     string
	StartTime time.Time
	EndTime   time.Time
	Created   time.Time
	Location  string
}

// WriteFeed writes an iCal feed for the given events to the writer.
func WriteFeed(w io.Writer, events []*Event, hostname, calName string) error {
	fmt.Fprintln(w, "BEGIN:VCALENDAR")
	fmt.Fprintln(w, "VERSION:2.0")
	fmt.Fprintln(w, "PRODID:-//Roomery//Bookings//EN")
	fmt.Fprintln(w, "CALSCALE:GREGORIAN")
	fmt.Fprintln(w, "METHOD:PUBLISH")
	fmt.Fprintf(w, "X-WR-CALNAME:%s\n", escapeText(calName))

	for _, e := range events {
		if err := writeVEvent(w, e, hostname); err != nil {
			return err
		}
	}

	fmt.Fprintln(w, "END:VCALENDAR")
	return nil
}

// writeVEvent writes a single VEVENT to the writer.
func writeVEvent(w io.Writer, e *Event, hostname string) error {
	fmt.Fprintln(w, "BEGIN:VEVENT")

	// UID must be unique and stable
	fmt.Fprintf(w, "UID:booking-%s@%s\n", e.UUID, hostname)

	fmt.Fprintf(w, "DTSTART:%s\n", formatDateTime(e.StartTime))
	fmt.Fprintf(w, "DTEND:%s\n", formatDateTime(e.EndTime))

	fmt.Fprintf(w, "DTSTAMP:%s\n", formatDateTime(e.Created))
	fmt.Fprintf(w, "CREATED:%s\n", formatDateTime(e.Created))

	fmt.Fprintf(w, "SUMMARY:%s\n", escapeText(e.Title))
	if e.Location != "" {
		fmt.Fprintf(w, "LOCATION:%s\n", escapeText(e.Location))
	}

	fmt.Fprintln(w, "END:VEVENT")
	return nil
}

// formatDateTime formats a time in iCal format (YYYYMMDDTHHMMSSZ).
func formatDateTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// escapeText escapes special characters in iCal text fields.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
