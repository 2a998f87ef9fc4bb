package feed

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// RawPrice is a price element as published, before any validation
type RawPrice struct {
	Name    string
	Value   string
	Updated string
}

// Record is one station element of the feed. Coordinates are still scaled
// by 100,000.
type Record struct {
	ID           string
	RawLatitude  float64
	RawLongitude float64
	PostalCode   string
	Pop          string
	Address      string
	City         string
	Prices       []RawPrice
}

type pdvElement struct {
	ID        string         `xml:"id,attr"`
	Latitude  string         `xml:"latitude,attr"`
	Longitude string         `xml:"longitude,attr"`
	CP        string         `xml:"cp,attr"`
	Pop       string         `xml:"pop,attr"`
	Address   string         `xml:"adresse"`
	City      string         `xml:"ville"`
	Prices    []priceElement `xml:"prix"`
}

type priceElement struct {
	Name    string `xml:"nom,attr"`
	Value   string `xml:"valeur,attr"`
	Updated string `xml:"maj,attr"`
}

// Parser reads station records one at a time. Only the current station
// element is held in memory; children other than address, city and prices
// are consumed without being kept.
type Parser struct {
	dec     *xml.Decoder
	rec     Record
	err     error
	done    bool
	count   int
	skipped int
	onSkip  func(error)
}

// NewParser creates a parser over an XML document
func NewParser(r io.Reader) *Parser {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader
	return &Parser{dec: dec}
}

// OnSkip registers a callback invoked with the reason a station was skipped
func (p *Parser) OnSkip(fn func(error)) {
	p.onSkip = fn
}

// Next advances to the next well-formed station. It returns false at the end
// of the document or on a syntax error; Err tells them apart.
func (p *Parser) Next() bool {
	if p.err != nil || p.done {
		return false
	}

	for {
		tok, err := p.dec.Token()
		if errors.Is(err, io.EOF) {
			p.done = true
			return false
		}
		if err != nil {
			p.err = fmt.Errorf("parse feed: %w", err)
			return false
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "pdv" {
			continue
		}

		var el pdvElement
		if err := p.dec.DecodeElement(&el, &start); err != nil {
			p.err = fmt.Errorf("parse feed: %w", err)
			return false
		}

		rec, err := el.record()
		if err != nil {
			p.skipped++
			if p.onSkip != nil {
				p.onSkip(err)
			}
			continue
		}

		p.rec = rec
		p.count++
		return true
	}
}

// Record returns the station read by the last successful Next
func (p *Parser) Record() Record { return p.rec }

// Err returns the error that stopped iteration, if any
func (p *Parser) Err() error { return p.err }

// Count returns the number of stations yielded so far
func (p *Parser) Count() int { return p.count }

// Skipped returns the number of malformed stations dropped so far
func (p *Parser) Skipped() int { return p.skipped }

// Records exposes the parser as a single-pass sequence. A syntax error is
// yielded once as the final element.
func (p *Parser) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for p.Next() {
			if !yield(p.rec, nil) {
				return
			}
		}
		if p.err != nil {
			yield(Record{}, p.err)
		}
	}
}

var (
	errMissingID          = errors.New("missing station id")
	errMissingCoordinates = errors.New("missing coordinates")
)

func (el *pdvElement) record() (Record, error) {
	id := strings.TrimSpace(el.ID)
	if id == "" {
		return Record{}, errMissingID
	}

	lat, err := parseCoordinate(el.Latitude)
	if err != nil {
		return Record{}, fmt.Errorf("station %s: latitude: %w", id, err)
	}
	lon, err := parseCoordinate(el.Longitude)
	if err != nil {
		return Record{}, fmt.Errorf("station %s: longitude: %w", id, err)
	}

	rec := Record{
		ID:           id,
		RawLatitude:  lat,
		RawLongitude: lon,
		PostalCode:   strings.TrimSpace(el.CP),
		Pop:          strings.TrimSpace(el.Pop),
		Address:      strings.TrimSpace(el.Address),
		City:         strings.TrimSpace(el.City),
		Prices:       make([]RawPrice, 0, len(el.Prices)),
	}
	for _, pe := range el.Prices {
		rec.Prices = append(rec.Prices, RawPrice{
			Name:    strings.TrimSpace(pe.Name),
			Value:   strings.TrimSpace(pe.Value),
			Updated: strings.TrimSpace(pe.Updated),
		})
	}

	return rec, nil
}

func parseCoordinate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errMissingCoordinates
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %q", s)
	}
	return v, nil
}

// charsetReader decodes the Latin-1 family the feed is published in
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "iso-8859-15", "iso8859-15", "latin9":
		return charmap.ISO8859_15.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
}
