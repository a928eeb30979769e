package config

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// PoolSettings is the data-file-pool flavor of the on-disk
// settings.xml: a Java-Properties XML document with the keys "time",
// "unit", "count" and "version". It fixes the time slice of one shard
// file and the number of slices to retain.
type PoolSettings struct {
	// Time is the slice length in units.
	Time int64

	// Unit is the time unit of Time.
	Unit TimeUnit

	// Count is the number of slices to retain.
	Count int64

	// Version is the settings format version. Only version 1 is
	// accepted.
	Version int64
}

// TimeUnit is a settings.xml time unit.
type TimeUnit string

// The accepted unit names.
const (
	UnitNanoseconds  TimeUnit = "NANOSECONDS"
	UnitMicroseconds TimeUnit = "MICROSECONDS"
	UnitMilliseconds TimeUnit = "MILLISECONDS"
	UnitSeconds      TimeUnit = "SECONDS"
	UnitMinutes      TimeUnit = "MINUTES"
	UnitHours        TimeUnit = "HOURS"
	UnitDays         TimeUnit = "DAYS"
)

// Duration returns the length of one unit.
func (u TimeUnit) Duration() (time.Duration, error) {
	switch u {
	case UnitNanoseconds:
		return time.Nanosecond, nil
	case UnitMicroseconds:
		return time.Microsecond, nil
	case UnitMilliseconds:
		return time.Millisecond, nil
	case UnitSeconds:
		return time.Second, nil
	case UnitMinutes:
		return time.Minute, nil
	case UnitHours:
		return time.Hour, nil
	case UnitDays:
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown time unit %q", string(u))
	}
}

// SliceTimespan returns the length of one file slice.
func (s *PoolSettings) SliceTimespan() (time.Duration, error) {
	unit, err := s.Unit.Duration()
	if err != nil {
		return 0, err
	}
	return time.Duration(s.Time) * unit, nil
}

// RetentionTimespan returns the total retained span: slice length
// times slice count.
func (s *PoolSettings) RetentionTimespan() (time.Duration, error) {
	slice, err := s.SliceTimespan()
	if err != nil {
		return 0, err
	}
	return slice * time.Duration(s.Count), nil
}

// propertiesDoc mirrors the Java-Properties XML structure.
type propertiesDoc struct {
	XMLName xml.Name          `xml:"properties"`
	Comment string            `xml:"comment,omitempty"`
	Entries []propertiesEntry `xml:"entry"`
}

type propertiesEntry struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// ParsePoolSettings parses a settings.xml document.
func ParsePoolSettings(r io.Reader) (*PoolSettings, error) {
	var doc propertiesDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	entries := make(map[string]string, len(doc.Entries))
	for _, e := range doc.Entries {
		entries[e.Key] = e.Value
	}

	s := &PoolSettings{}
	var err error
	if s.Time, err = settingsInt(entries, "time"); err != nil {
		return nil, err
	}
	unit, ok := entries["unit"]
	if !ok {
		return nil, fmt.Errorf("settings: missing key 'unit'")
	}
	s.Unit = TimeUnit(unit)
	if _, err := s.Unit.Duration(); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	if s.Count, err = settingsInt(entries, "count"); err != nil {
		return nil, err
	}
	if s.Version, err = settingsInt(entries, "version"); err != nil {
		return nil, err
	}
	if s.Version != 1 {
		return nil, fmt.Errorf("settings: unsupported version %d", s.Version)
	}
	if s.Time <= 0 || s.Count <= 0 {
		return nil, fmt.Errorf("settings: time and count must be positive")
	}
	return s, nil
}

// LoadPoolSettings reads and parses a settings.xml file.
func LoadPoolSettings(path string) (*PoolSettings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParsePoolSettings(f)
}

// WritePoolSettings serializes the settings as a Java-Properties XML
// document.
func WritePoolSettings(w io.Writer, s *PoolSettings) error {
	doc := propertiesDoc{
		Entries: []propertiesEntry{
			{Key: "time", Value: strconv.FormatInt(s.Time, 10)},
			{Key: "unit", Value: string(s.Unit)},
			{Key: "count", Value: strconv.FormatInt(s.Count, 10)},
			{Key: "version", Value: strconv.FormatInt(s.Version, 10)},
		},
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "<!DOCTYPE properties SYSTEM \"http://java.sun.com/dtd/properties.dtd\">\n"); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func settingsInt(entries map[string]string, key string) (int64, error) {
	raw, ok := entries[key]
	if !ok {
		return 0, fmt.Errorf("settings: missing key '%s'", key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("settings: key '%s': %w", key, err)
	}
	return v, nil
}
