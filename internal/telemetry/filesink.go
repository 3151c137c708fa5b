package telemetry

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FileSink reproduces the legacy "<path>_data.log" layout: three
// space-separated series lines (rwnd, cwnd, RTO) followed by two summary
// lines, written once on Finish.
type FileSink struct {
	path string

	mu       sync.Mutex
	rwnd     []string
	cwnd     []string
	rto      []string
}

// NewFileSink targets path+"_data.log", matching the original naming.
func NewFileSink(filePath string) *FileSink {
	return &FileSink{path: filePath + "_data.log"}
}

func (f *FileSink) Observe(s Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rwnd = append(f.rwnd, strconv.Itoa(int(s.Rwnd)))
	f.cwnd = append(f.cwnd, strconv.FormatFloat(s.Cwnd, 'f', -1, 64))
	f.rto = append(f.rto, strconv.FormatFloat(s.RTO.Seconds(), 'f', -1, 64))
}

func (f *FileSink) Finish(s Summary) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var b strings.Builder
	b.WriteString(strings.Join(f.rwnd, " "))
	b.WriteString("\n")
	b.WriteString(strings.Join(f.cwnd, " "))
	b.WriteString("\n")
	b.WriteString(strings.Join(f.rto, " "))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Total lost times is %d", s.TotalTimeouts)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Total duplicate times is %d", s.TotalFastResends)

	_ = os.WriteFile(f.path, []byte(b.String()), 0o644)
}
