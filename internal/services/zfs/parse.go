package zfs

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/fgeck/pve-homelab/internal/models"
)

// ParsePools parses `zpool list -Hp -o name,size,alloc,free,health`.
func ParsePools(output []byte) ([]models.Pool, error) {
	var pools []models.Pool

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Split(strings.TrimSpace(scanner.Text()), "\t")
		if len(fields) < 5 {
			continue
		}

		pool := models.Pool{Name: fields[0], Health: fields[4]}
		var err error
		if pool.Size, err = parseBytes(fields[1]); err != nil {
			return nil, fmt.Errorf("pool %s size: %w", pool.Name, err)
		}
		if pool.Alloc, err = parseBytes(fields[2]); err != nil {
			return nil, fmt.Errorf("pool %s alloc: %w", pool.Name, err)
		}
		if pool.Free, err = parseBytes(fields[3]); err != nil {
			return nil, fmt.Errorf("pool %s free: %w", pool.Name, err)
		}
		pools = append(pools, pool)
	}

	return pools, scanner.Err()
}

// ParseDatasets parses `zfs list -Hp -o name,type,used,avail,mountpoint`.
func ParseDatasets(output []byte) ([]models.Dataset, error) {
	var datasets []models.Dataset

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Split(strings.TrimSpace(scanner.Text()), "\t")
		if len(fields) < 5 {
			continue
		}

		ds := models.Dataset{Name: fields[0], Type: fields[1], Mountpoint: fields[4]}
		var err error
		if ds.Used, err = parseBytes(fields[2]); err != nil {
			return nil, fmt.Errorf("dataset %s used: %w", ds.Name, err)
		}
		if ds.Avail, err = parseBytes(fields[3]); err != nil {
			return nil, fmt.Errorf("dataset %s avail: %w", ds.Name, err)
		}
		datasets = append(datasets, ds)
	}

	return datasets, scanner.Err()
}

// ParseProperties parses `zfs get -Hp -o property,value,source`.
func ParseProperties(output []byte) map[string]models.Property {
	props := make(map[string]models.Property)

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Split(strings.TrimSpace(scanner.Text()), "\t")
		if len(fields) < 3 {
			continue
		}
		props[fields[0]] = models.Property{Name: fields[0], Value: fields[1], Source: fields[2]}
	}

	return props
}

func parseBytes(s string) (uint64, error) {
	if s == "-" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
