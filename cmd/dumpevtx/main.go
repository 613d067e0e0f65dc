// Dump the contents of EVTX files in readable format.
// Reference: https://docs.microsoft.com/en-us/openspecs/windows_protocols/ms-even6/c73573ae-1c90-43a2-a65f-ad7501155956
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/sirupsen/logrus"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/KasperskyLab/evtxbinxml/igevtx"
)

var (
	app      = kingpin.New("dumpevtx", "Dump the contents of EVTX files in readable format.")
	verbose  = app.Flag("verbose", "set the log level to info; failing files are logged either way").Short('v').Bool()
	filePaths = app.Arg("file", "EVTX file to dump").Required().Strings()
)

func normalizeNl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if c == '\r' || c == '\n' {
			b.WriteRune(' ')
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func printEvent(out io.Writer, t time.Time, num uint64, fields *ordereddict.Dict) {
	fmt.Fprintf(out, "Record #%d %s ", num, t.Format("2006-01-02T15:04:05Z"))
	for _, key := range fields.Keys() {
		v, _ := fields.Get(key)
		fmt.Fprintf(out, "%s:%s,", key, normalizeNl(fmt.Sprintf("%v", v)))
	}
	fmt.Fprintf(out, "\n")
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if *verbose {
		logrus.SetLevel(logrus.InfoLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	tables := igevtx.DefaultTables()

	for _, fname := range *filePaths {
		err := igevtx.ParseFile(fname, tables, func(t time.Time, num uint64, fields *ordereddict.Dict) {
			printEvent(out, t, num, fields)
		})
		if err != nil {
			logrus.WithError(err).Warnf("Failed on %s", fname)
		}
	}
}
