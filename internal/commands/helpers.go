package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vitaminmoo/bluelocate/internal/transport"
)

// Device is a connected peripheral: the transfer surface plus its GATT layout.
type Device interface {
	transport.Transport
	transport.Discoverer
}

// PrintJSON pretty-prints v. If encoding fails, prints it with %+v.
func PrintJSON(w io.Writer, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "%+v\n", v)
		return
	}
	fmt.Fprintln(w, string(data))
}

// ConfirmAction prompts the user to type 'yes' to continue.
// Returns true if confirmed, false otherwise.
func ConfirmAction(r io.Reader, w io.Writer, prompt string) bool {
	fmt.Fprint(w, prompt)

	reader := bufio.NewReader(r)
	confirm, _ := reader.ReadString('\n')
	confirm = strings.TrimSpace(confirm)

	return confirm == "yes"
}
