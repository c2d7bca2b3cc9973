package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// adapterView mirrors internal/server's JSON adapter representation.
type adapterView struct {
	ID int `json:"id"`
}

// clientView mirrors internal/server's JSON connected-accessory representation.
type clientView struct {
	ID       uint8        `json:"id"`
	State    string       `json:"state"`
	Identity *identityDTO `json:"identity,omitempty"`
}

type identityDTO struct {
	Vendor  uint16 `json:"vendor"`
	Product uint16 `json:"product"`
	FwVer   uint32 `json:"fw_version"`
	HwVer   uint32 `json:"hw_version"`
	MAC     string `json:"mac"`
}

func formatAdapters(adapters []adapterView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(adapters)
	case formatTable:
		return formatAdaptersTable(adapters), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatClients(clients []clientView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(clients)
	case formatTable:
		return formatClientsTable(clients), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatClient(c clientView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(c)
	case formatTable:
		return formatClientDetail(c), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatAdaptersTable(adapters []adapterView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADAPTER")
	for _, a := range adapters {
		fmt.Fprintf(w, "%d\n", a.ID)
	}
	w.Flush()
	return buf.String()
}

func formatClientsTable(clients []clientView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLIENT\tSTATE\tVENDOR\tPRODUCT\tMAC")
	for _, c := range clients {
		vendor, product, mac := "-", "-", "-"
		if c.Identity != nil {
			vendor = fmt.Sprintf("0x%04x", c.Identity.Vendor)
			product = fmt.Sprintf("0x%04x", c.Identity.Product)
			mac = c.Identity.MAC
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", c.ID, c.State, vendor, product, mac)
	}
	w.Flush()
	return buf.String()
}

func formatClientDetail(c clientView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Client:\t%d\n", c.ID)
	fmt.Fprintf(w, "State:\t%s\n", c.State)
	if c.Identity != nil {
		fmt.Fprintf(w, "Vendor:\t0x%04x\n", c.Identity.Vendor)
		fmt.Fprintf(w, "Product:\t0x%04x\n", c.Identity.Product)
		fmt.Fprintf(w, "Firmware Version:\t%d\n", c.Identity.FwVer)
		fmt.Fprintf(w, "Hardware Version:\t%d\n", c.Identity.HwVer)
		fmt.Fprintf(w, "MAC:\t%s\n", c.Identity.MAC)
	}
	w.Flush()
	return buf.String()
}

func marshalIndent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data), nil
}
