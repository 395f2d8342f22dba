// Package teb contains templates and (templated) tables to format CLI output.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package teb

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"text/template"
	"time"

	"github.com/NVIDIA/radstore/cmn/cos"
	clsrbd "github.com/NVIDIA/radstore/cls/rbd"
	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli"
)

// NotSetVal is rendered in place of empty or unknown values.
const NotSetVal = "-"

var Writer io.Writer

var (
	fred func(format string, a ...any) string
)

func Init(w io.Writer, noColor bool) {
	Writer = w
	if noColor {
		fred = fmt.Sprintf
	} else {
		fred = color.New(color.FgHiRed).Sprintf
	}
}

var funcMap = template.FuncMap{
	"FmtBool":     FmtBool,
	"FmtSize":     FmtSize,
	"FmtSizeSig":  FmtSizeSig,
	"FmtDuration": FmtDuration,
	"FmtTime":     FmtTime,
	"FmtFeatures": FmtFeatures,
	"FmtDash":     FmtDash,
	"FmtRC":       FmtRC,
	"FmtLimit":    FmtLimit,
}

// HelpTemplateFuncMap is used by the usage templates below.
var HelpTemplateFuncMap = template.FuncMap{
	"FlagName": func(f cli.Flag) string { return strings.SplitN(f.GetName(), ",", 2)[0] },
	"Mod":      func(a, mod int) int { return a % mod },
}

// FmtBool returns "yes" if true, else "no"
func FmtBool(t bool) string {
	if t {
		return "yes"
	}
	return "no"
}

func FmtSize(size uint64) string { return cos.ToSizeIEC(int64(size), 0) }

func FmtSizeSig(size int64) string { return cos.ToSizeIEC(size, 0) }

func FmtDuration(d time.Duration) string { return d.Truncate(time.Second).String() }

func FmtTime(t time.Time) string {
	if t.IsZero() {
		return NotSetVal
	}
	return t.Format(time.Stamp)
}

func FmtDash(s string) string {
	if s == "" {
		return NotSetVal
	}
	return s
}

// FmtRC renders an op return code; failures show up red.
func FmtRC(rc int) string {
	if rc == 0 {
		return "0"
	}
	return fred("%d", rc)
}

// FmtLimit renders a quota bound; non-positive means unlimited.
func FmtLimit(v int64) string {
	if v <= 0 {
		return "unlimited"
	}
	return strconv.FormatInt(v, 10)
}

// FmtFeatures renders an image feature mask the way `rbd info` does.
func FmtFeatures(mask uint64) string {
	var (
		names = []struct {
			bit  uint64
			name string
		}{
			{clsrbd.FeatureLayering, "layering"},
			{clsrbd.FeatureStripingV2, "striping"},
			{clsrbd.FeatureExclusiveLock, "exclusive-lock"},
			{clsrbd.FeatureObjectMap, "object-map"},
		}
		parts []string
	)
	for _, f := range names {
		if mask&f.bit != 0 {
			parts = append(parts, f.name)
			mask &^= f.bit
		}
	}
	if mask != 0 {
		parts = append(parts, fmt.Sprintf("unknown(%#x)", mask))
	}
	if len(parts) == 0 {
		return NotSetVal
	}
	return strings.Join(parts, ", ")
}

// Print renders object through outputTemplate onto writer; useJSON
// ignores the template and emits indented JSON instead.
func Print(object any, writer io.Writer, outputTemplate string, useJSON bool) error {
	if useJSON {
		out, err := jsoniter.MarshalIndent(object, "", "    ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(writer, string(out))
		return err
	}
	tmpl, err := template.New("DisplayTemplate").Funcs(funcMap).Parse(outputTemplate)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(writer, 0, 8, 1, '\t', 0)
	if err := tmpl.Execute(w, object); err != nil {
		return err
	}
	return w.Flush()
}
