package main

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/AspieSoft/go-regex-re2/v2"
	"github.com/AspieSoft/goutil/v7"
	"gopkg.in/yaml.v2"
)

//go:embed assets/layout.yml
var defaultLayout []byte

// read from the working directory when present
const layoutFile = "layout.yml"

var dataSizeChars = []string{
	"b",
	"kb",
	"mb",
	"gb",
	"tb",
	"pb",
}

type diskConfig struct {
	Table string

	Partitions []map[string]*diskPart
}

type diskPart struct {
	Type  string
	Size  partSize
	Flags []string
}

// partSize accepts both `size: 8gb` and `size: -1`
type partSize string

func (s *partSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var val interface{}
	if err := unmarshal(&val); err != nil {
		return err
	}
	*s = partSize(fmt.Sprint(val))
	return nil
}

type layoutPlan struct {
	commands []string

	// partition numbers, swap is 0 when the layout has none
	boot int
	root int
	swap int
}

func loadLayout() (diskConfig, error) {
	buf, err := os.ReadFile(layoutFile)
	if err != nil {
		buf = defaultLayout
	}else{
		logData("Using partition layout from "+layoutFile)
	}
	return parseLayout(buf)
}

func parseLayout(buf []byte) (diskConfig, error) {
	config := diskConfig{}
	if err := yaml.Unmarshal(buf, &config); err != nil {
		return diskConfig{}, fmt.Errorf("error: failed to parse partition layout: %w", err)
	}
	if config.Table == "" {
		config.Table = "gpt"
	}
	return config, nil
}

// parseSize converts a size like "512mb" or "8gb" to MiB.
// A size of -1 means the rest of the disk.
func parseSize(val string) (int64, error) {
	val = strings.ToLower(strings.TrimSpace(val))
	if val == "-1" {
		return -1, nil
	}

	var num, unit string
	regex.Comp(`^([0-9]+)\s*([a-z]*)$`).RepFunc([]byte(val), func(data func(int) []byte) []byte {
		num = string(data(1))
		unit = string(data(2))
		return nil
	}, true)

	size, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, errors.New("invalid size '"+val+"'")
	}

	// 8g, 8gib and 8gb all mean the same here
	unit = strings.Replace(unit, "i", "", 1)
	if unit == "" {
		unit = "mb"
	}else if len(unit) == 1 && unit != "b" {
		unit += "b"
	}

	mbInd, _ := goutil.IndexOf(dataSizeChars, "mb")
	i, err := goutil.IndexOf(dataSizeChars, unit)
	if err != nil {
		return 0, errors.New("invalid size unit '"+unit+"'")
	}
	for i > mbInd {
		size *= 1024
		i--
	}
	for i < mbInd {
		size /= 1024
		i++
	}

	return size, nil
}

// compile turns the layout into parted script commands.
func (config diskConfig) compile(rootType string) (layoutPlan, error) {
	plan := layoutPlan{
		commands: []string{
			`mklabel `+config.Table,
			`unit mib`,
		},
	}

	start := int64(1)
	rest := false
	i := 1
	for _, partData := range config.Partitions {
		if len(partData) != 1 {
			return layoutPlan{}, errors.New("error: each layout entry must name exactly one partition")
		}

		for name, part := range partData {
			if part == nil {
				part = &diskPart{}
			}

			if rest {
				return layoutPlan{}, errors.New("error: partition '"+name+"' comes after a partition that fills the disk")
			}

			size, err := parseSize(string(part.Size))
			if err != nil {
				return layoutPlan{}, fmt.Errorf("error: partition '%s': %w", name, err)
			}
			if size == 0 {
				continue
			}

			switch name {
			case "boot":
				plan.boot = i
			case "root":
				plan.root = i
				if rootType != "" {
					part.Type = rootType
				}
			case "swap":
				plan.swap = i
			default:
				return layoutPlan{}, errors.New("error: unknown partition '"+name+"', expected boot, swap or root")
			}

			end := "100%"
			if size == -1 {
				rest = true
			}else{
				end = strconv.FormatInt(start+size, 10)
			}

			mkpart := `mkpart `+name
			if part.Type != "" {
				mkpart += ` `+part.Type
			}
			plan.commands = append(plan.commands, mkpart+` `+strconv.FormatInt(start, 10)+` `+end)

			for _, flag := range part.Flags {
				plan.commands = append(plan.commands, `set `+strconv.Itoa(i)+` `+flag+` on`)
			}

			start += size
			i++
		}
	}

	if plan.boot == 0 || plan.root == 0 {
		return layoutPlan{}, errors.New("error: partition layout needs a boot and a root partition")
	}

	return plan, nil
}

// partedArgs builds a single parted invocation running every command.
func (plan layoutPlan) partedArgs(disk string) []string {
	args := []string{`parted`, `--script`, `--align`, `optimal`, disk}
	for _, cmd := range plan.commands {
		args = append(args, strings.Fields(cmd)...)
	}
	return args
}

func (plan layoutPlan) partitions(disk string) partitionSet {
	parts := partitionSet{
		boot: partitionPath(disk, plan.boot),
		root: partitionPath(disk, plan.root),
	}
	if plan.swap != 0 {
		parts.swap = partitionPath(disk, plan.swap)
	}
	return parts
}
