package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"arbitration-service/allocation"
	"arbitration-service/queues"

	"github.com/spf13/cobra"
)

var (
	listServer   string
	listResource string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List allocations the server currently holds",
	Long: `List the live allocations from the server's status endpoint, ordered by
slot start.

Examples:
  allocctl list
  allocctl list --server http://allocator:8080 --resource /robot/arm`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listServer, "server", "s", "http://localhost:8080", "Status endpoint base URL")
	listCmd.Flags().StringVarP(&listResource, "resource", "r", "", "Only allocations holding this resource")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	live, err := fetchAllocations(&http.Client{Timeout: 5 * time.Second}, listServer, listResource)
	if err != nil {
		return printError("status unavailable", err.Error(),
			"Check that the server is running and --server points at its metrics port")
	}
	printAllocations(cmd.OutOrStdout(), live, time.Now())
	return nil
}

func fetchAllocations(hc *http.Client, server, resource string) ([]allocation.Allocation, error) {
	u := strings.TrimSuffix(server, "/") + "/allocations"
	if resource != "" {
		u += "?resource=" + url.QueryEscape(resource)
	}
	resp, err := hc.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GET %s: %s: %s", u, resp.Status, strings.TrimSpace(string(b)))
	}

	var body struct {
		Allocations []*queues.AllocationRecord `json:"allocations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode %s: %w", u, err)
	}
	out := make([]allocation.Allocation, 0, len(body.Allocations))
	for _, rec := range body.Allocations {
		a, err := rec.Allocation()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func printAllocations(w io.Writer, live []allocation.Allocation, now time.Time) {
	if len(live) == 0 {
		fmt.Fprintln(w, faint.Sprint("no live allocations"))
		return
	}
	for _, a := range live {
		fmt.Fprintf(w, "%s  %s  %-9s %-10s %s  [%s]  %s\n",
			colorState(a.State),
			a.ID,
			a.Priority,
			a.Initiator,
			formatSlot(a.Slot, now),
			strings.Join(a.ResourceIDs, ","),
			a.Description,
		)
	}
}

