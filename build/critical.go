package build

import (
	"fmt"
	"os"
)

// IssuesURL is where bug reports for the content node should be filed.
const IssuesURL = "https://github.com/anthonymartin/audius-protocol/issues"

// Critical should be called if a sanity check has failed, indicating
// developer error. Critical is called with an extended message guiding the
// user to the issue tracker. In debug builds the call panics so that tests
// and dev nodes fail loudly.
func Critical(v ...interface{}) {
	s := "Critical error: " + fmt.Sprintln(v...) + "Please submit a bug report here: " + IssuesURL + "\n"
	if Release != "testing" {
		os.Stderr.WriteString(s)
	}
	if DEBUG {
		panic(s)
	}
}

// Severe should be called if a severe problem has been encountered which
// makes continued execution dangerous, such as a failed disk write.
func Severe(v ...interface{}) {
	s := "Severe error: " + fmt.Sprintln(v...)
	if Release != "testing" {
		os.Stderr.WriteString(s)
	}
	if DEBUG {
		panic(s)
	}
}
