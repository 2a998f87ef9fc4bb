package integration

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

// feedStation is one pdv element of a generated feed
type feedStation struct {
	ID       string
	Lat, Lon float64
	City     string
	Prices   []feedPrice
}

type feedPrice struct {
	Fuel  string
	Value string
	At    time.Time
}

// feedDocument renders stations the way the publisher does, coordinates scaled by 1e5
func feedDocument(stations []feedStation) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n<pdv_liste>\n")
	for _, st := range stations {
		fmt.Fprintf(&b, `  <pdv id="%s" latitude="%.0f" longitude="%.0f" cp="69000" pop="R">`, st.ID, st.Lat*1e5, st.Lon*1e5)
		fmt.Fprintf(&b, "<adresse>%s avenue Jean Jaures</adresse><ville>%s</ville>", st.ID, st.City)
		b.WriteString(`<horaires automate-24-24="1"><jour id="1" nom="Lundi" ferme=""/></horaires>`)
		b.WriteString("<services><service>Boutique alimentaire</service></services>")
		for _, p := range st.Prices {
			fmt.Fprintf(&b, `<prix nom="%s" id="1" maj="%s" valeur="%s"/>`, p.Fuel, p.At.Format("2006-01-02 15:04:05"), p.Value)
		}
		b.WriteString("</pdv>\n")
	}
	b.WriteString("</pdv_liste>\n")
	return b.String()
}

// zipFeed wraps a document in the archive layout served by the publisher
func zipFeed(t *testing.T, name, doc string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// lyonStations returns n stations spread north of Lyon centre, each with a
// Gazole price and every other one with E10
func lyonStations(n int, at time.Time, gazole float64) []feedStation {
	out := make([]feedStation, n)
	for i := range out {
		st := feedStation{
			ID:   fmt.Sprintf("690%05d", i),
			Lat:  45.76 + float64(i)*0.002,
			Lon:  4.83,
			City: "Lyon",
			Prices: []feedPrice{
				{Fuel: "Gazole", Value: fmt.Sprintf("%.3f", gazole+float64(i%7)/100), At: at},
			},
		}
		if i%2 == 0 {
			st.Prices = append(st.Prices, feedPrice{Fuel: "E10", Value: "1.859", At: at})
		}
		out[i] = st
	}
	return out
}
