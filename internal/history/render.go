package history

import (
	"bufio"
	"io"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Render writes a human-readable rendering of d, keys in lexical order.
//
//	<key> (active|deleted)
//	  * <timestamp>  <size>  from <address>     current record
//	  - <timestamp>  <size>  from <address>     history records
//	      <Header>: <value>
func Render(w io.Writer, d Dump) error {
	bw := bufio.NewWriter(w)
	p := message.NewPrinter(language.English)

	for _, key := range d.Keys() {
		kh := d[key]
		state := "deleted"
		if kh.Current != nil {
			state = "active"
		}
		p.Fprintf(bw, "%s (%s)\n", key, state)

		if kh.Current != nil {
			renderRecord(bw, p, "*", *kh.Current)
		}
		for _, r := range kh.History {
			renderRecord(bw, p, "-", r)
		}
	}
	return bw.Flush()
}

func renderRecord(w io.Writer, p *message.Printer, marker string, r Record) {
	size := "no value"
	if r.Size != nil {
		size = p.Sprintf("%d bytes", *r.Size)
	}
	p.Fprintf(w, "  %s %s  %s  from %s\n", marker, r.Timestamp.UTC().Format(time.RFC3339Nano), size, r.Address)
	for _, h := range r.Headers {
		p.Fprintf(w, "      %s: %s\n", h.Key, h.Value)
	}
}
