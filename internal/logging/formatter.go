package logging

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

const defaultTimestampFormat = "2006-01-02 15:04:05,000"

// LineFormatter renders "<time> - <LEVEL> - <message> key=value...".
type LineFormatter struct {
	TimestampFormat string
}

func (f *LineFormatter) Format(entry *log.Entry) ([]byte, error) {
	layout := f.TimestampFormat
	if layout == "" {
		layout = defaultTimestampFormat
	}

	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	b.WriteString(entry.Time.Format(layout))
	b.WriteString(" - ")
	b.WriteString(strings.ToUpper(entry.Level.String()))
	b.WriteString(" - ")
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
