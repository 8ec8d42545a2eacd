package proxmox

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fgeck/pve-homelab/internal/models"
)

// clusterStatusEntry is one element of `pvesh get /cluster/status --output-format json`.
type clusterStatusEntry struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	NodeID int    `json:"nodeid"`
	IP     string `json:"ip"`
	Local  int    `json:"local"`
	Online int    `json:"online"`
}

// ParseClusterStatus returns the node entries of the cluster status, sorted by node id.
func ParseClusterStatus(output []byte) ([]models.Node, error) {
	var entries []clusterStatusEntry
	if err := json.Unmarshal(output, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse cluster status: %w", err)
	}

	var nodes []models.Node
	for _, e := range entries {
		if e.Type != "node" {
			continue
		}
		nodes = append(nodes, models.Node{
			Name:    e.Name,
			Address: e.IP,
			ID:      e.NodeID,
			Local:   e.Local == 1,
			Online:  e.Online == 1,
		})
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// ParsePvecmNodes parses the membership table printed by `pvecm nodes`:
//
//	Membership information
//	----------------------
//	    Nodeid      Votes Name
//	         1          1 pve1 (local)
//
// Node ids may be decimal or 0x-prefixed hex. Rows whose first column is
// not a number are ignored. Membership only lists online nodes.
func ParsePvecmNodes(output []byte) ([]models.Node, error) {
	var nodes []models.Node
	headerSeen := false

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 3 && strings.EqualFold(fields[0], "nodeid") {
			headerSeen = true
			continue
		}
		if !headerSeen || len(fields) < 3 {
			continue
		}

		id, err := strconv.ParseInt(fields[0], 0, 32)
		if err != nil {
			continue
		}
		if _, err := strconv.Atoi(fields[1]); err != nil {
			continue
		}

		nodes = append(nodes, models.Node{
			Name:   fields[2],
			ID:     int(id),
			Local:  len(fields) > 3 && fields[3] == "(local)",
			Online: true,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !headerSeen {
		return nil, fmt.Errorf("unrecognized pvecm nodes output")
	}

	return nodes, nil
}

// clusterResource is one element of `pvesh get /cluster/resources --type vm --output-format json`.
type clusterResource struct {
	VMID int    `json:"vmid"`
	Node string `json:"node"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// ParseClusterResources maps every guest id in the cluster to its node.
func ParseClusterResources(output []byte) (map[int]string, error) {
	var resources []clusterResource
	if err := json.Unmarshal(output, &resources); err != nil {
		return nil, fmt.Errorf("failed to parse cluster resources: %w", err)
	}

	ids := make(map[int]string, len(resources))
	for _, r := range resources {
		if r.VMID > 0 {
			ids[r.VMID] = r.Node
		}
	}
	return ids, nil
}

// ParsePctList returns the container ids printed by `pct list`.
func ParsePctList(output []byte) []int {
	var ids []int

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if id, err := strconv.Atoi(fields[0]); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// ParseStorageStatus parses `pvesm status`. Sizes are reported in KiB.
func ParseStorageStatus(output []byte) ([]models.Storage, error) {
	var storages []models.Storage

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 || fields[0] == "Name" {
			continue
		}

		st := models.Storage{
			Name:   fields[0],
			Type:   fields[1],
			Active: fields[2] == "active",
		}
		total, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("storage %s total: %w", st.Name, err)
		}
		avail, err := strconv.ParseUint(fields[5], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("storage %s available: %w", st.Name, err)
		}
		st.Total = total * 1024
		st.Available = avail * 1024
		storages = append(storages, st)
	}

	return storages, scanner.Err()
}

// ParseTemplateList returns the volume ids printed by `pveam list <storage>`.
func ParseTemplateList(output []byte) []string {
	var volids []string

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && strings.Contains(fields[0], ":vztmpl/") {
			volids = append(volids, fields[0])
		}
	}
	return volids
}

// ParseAvailableTemplates returns the template names printed by `pveam available`.
func ParseAvailableTemplates(output []byte) []string {
	var names []string

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 {
			names = append(names, fields[1])
		}
	}
	return names
}

// NewestTemplate returns the entry with the highest version among those
// whose file name starts with prefix. Versions compare numerically, so
// 12.12-1 is newer than 12.2-1.
func NewestTemplate(templates []string, prefix string) (string, bool) {
	best, bestBase := "", ""
	for _, t := range templates {
		base := t
		if i := strings.LastIndex(t, "/"); i >= 0 {
			base = t[i+1:]
		}
		if !strings.HasPrefix(base, prefix) {
			continue
		}
		if best == "" || CompareVersions(base, bestBase) > 0 {
			best, bestBase = t, base
		}
	}
	return best, best != ""
}

// CompareVersions compares two strings chunk by chunk: digit runs by
// numeric value, everything else byte-wise. It returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	for a != "" && b != "" {
		ca, ra := nextChunk(a)
		cb, rb := nextChunk(b)
		a, b = ra, rb

		if isDigit(ca[0]) && isDigit(cb[0]) {
			na, nb := strings.TrimLeft(ca, "0"), strings.TrimLeft(cb, "0")
			if len(na) != len(nb) {
				return cmp.Compare(len(na), len(nb))
			}
			if c := strings.Compare(na, nb); c != 0 {
				return c
			}
			continue
		}
		if c := strings.Compare(ca, cb); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

// nextChunk splits off the leading run of digits or non-digits.
func nextChunk(s string) (string, string) {
	digit := isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digit {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
