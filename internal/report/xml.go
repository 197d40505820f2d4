package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/coverage-analysis/pkg/model"
)

// XML writes report → session → package → sourcefile → line elements with
// per-line instruction and branch counters.
type XML struct{}

func (XML) Name() string      { return FormatXML }
func (XML) Extension() string { return "xml" }

func (XML) NewEncoder(w io.Writer) Encoder {
	return &xmlEncoder{w: w, enc: xml.NewEncoder(w)}
}

type xmlReport struct {
	XMLName  xml.Name     `xml:"report"`
	Sessions []xmlSession `xml:"session"`
}

type xmlSession struct {
	ID       string       `xml:"id,attr"`
	Start    int64        `xml:"start,attr"`
	Dump     int64        `xml:"dump,attr"`
	Packages []xmlPackage `xml:"package"`
}

type xmlPackage struct {
	Name        string          `xml:"name,attr"`
	SourceFiles []xmlSourceFile `xml:"sourcefile"`
}

type xmlSourceFile struct {
	Name  string    `xml:"name,attr"`
	Lines []xmlLine `xml:"line"`
}

type xmlLine struct {
	Nr int `xml:"nr,attr"`
	model.LineCounter
}

type xmlEncoder struct {
	w   io.Writer
	enc *xml.Encoder
}

var xmlRoot = xml.StartElement{Name: xml.Name{Local: "report"}}

func (e *xmlEncoder) Begin() error {
	if _, err := io.WriteString(e.w, xml.Header); err != nil {
		return err
	}
	return e.enc.EncodeToken(xmlRoot)
}

func (e *xmlEncoder) WriteSession(g *model.CoverageGroup) error {
	s := xmlSession{
		ID:    g.Session.ID,
		Start: g.Session.Start.UnixMilli(),
		Dump:  g.Session.Dump.UnixMilli(),
	}
	index := make(map[string]int)
	for _, f := range g.Files {
		i, ok := index[f.Package]
		if !ok {
			i = len(s.Packages)
			index[f.Package] = i
			s.Packages = append(s.Packages, xmlPackage{Name: f.Package})
		}
		sf := xmlSourceFile{Name: f.SourceFile}
		for _, nr := range f.LineNumbers() {
			sf.Lines = append(sf.Lines, xmlLine{Nr: nr, LineCounter: *f.Lines[nr]})
		}
		s.Packages[i].SourceFiles = append(s.Packages[i].SourceFiles, sf)
	}
	sort.Slice(s.Packages, func(i, j int) bool { return s.Packages[i].Name < s.Packages[j].Name })
	return e.enc.EncodeElement(s, xml.StartElement{Name: xml.Name{Local: "session"}})
}

func (e *xmlEncoder) End() error {
	if err := e.enc.EncodeToken(xmlRoot.End()); err != nil {
		return err
	}
	return e.enc.Flush()
}

// Read parses an XML report part.
func (XML) Read(r io.Reader) ([]*model.CoverageGroup, error) {
	var doc xmlReport
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse XML report: %w", err)
	}

	groups := make([]*model.CoverageGroup, 0, len(doc.Sessions))
	for _, s := range doc.Sessions {
		g := &model.CoverageGroup{Session: model.Session{
			ID:    s.ID,
			Start: time.UnixMilli(s.Start),
			Dump:  time.UnixMilli(s.Dump),
		}}
		for _, p := range s.Packages {
			for _, sf := range p.SourceFiles {
				fc := model.NewFileCoverage(p.Name, sf.Name)
				for _, l := range sf.Lines {
					c := l.LineCounter
					fc.Lines[l.Nr] = &c
				}
				g.Files = append(g.Files, fc)
			}
		}
		groups = append(groups, g)
	}
	return groups, nil
}
