package soap

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Arg is one named SOAP argument. Argument order is significant to some
// firmware revisions, so requests carry an ordered slice rather than a map.
type Arg struct {
	Name  string
	Value string
}

// Request describes one outbound SOAP action call.
type Request struct {
	IP           string
	Path         string
	Schema       string
	FunctionName string
	Args         []Arg
}

// SoapAction returns the SOAPACTION header value (without quotes).
func (r *Request) SoapAction() string {
	return r.Schema + "#" + r.FunctionName
}

// URL returns the control endpoint the request posts to.
func (r *Request) URL() string {
	return fmt.Sprintf("http://%s:1400%s", r.IP, r.Path)
}

// Envelope renders the SOAP envelope body. Argument values are escaped once;
// callers pass metadata and URIs in their raw form.
func (r *Request) Envelope() []byte {
	var buf strings.Builder
	buf.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body><u:`)
	buf.WriteString(r.FunctionName)
	buf.WriteString(` xmlns:u="`)
	buf.WriteString(r.Schema)
	buf.WriteString(`">`)
	for _, arg := range r.Args {
		buf.WriteString("<")
		buf.WriteString(arg.Name)
		buf.WriteString(">")
		buf.WriteString(escapeXML(arg.Value))
		buf.WriteString("</")
		buf.WriteString(arg.Name)
		buf.WriteString(">")
	}
	buf.WriteString("</u:")
	buf.WriteString(r.FunctionName)
	buf.WriteString("></s:Body></s:Envelope>")
	return []byte(buf.String())
}

func escapeXML(input string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(input)); err != nil {
		return input
	}
	return b.String()
}
