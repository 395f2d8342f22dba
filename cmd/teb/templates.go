// Package teb contains templates and (templated) tables to format CLI output.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package teb

import (
	"time"
)

const (
	// ShortUsageTmpl is the help shown on usage errors.
	ShortUsageTmpl = "{{if .UsageText}}{{.UsageText}}{{else}}{{.HelpName}}{{if .VisibleFlags}} [command options]{{end}} {{if .ArgsUsage}}{{.ArgsUsage}}{{else}}[arguments...]{{end}}{{end}} - {{.Usage}}\n" +
		"\n\tCOMMANDS:\t" +
		"{{range .VisibleCategories}}" +
		"{{ range $index, $element := .VisibleCommands}}" +
		"{{if $index}}, {{end}}" +
		"{{if ( eq ( Mod $index 13 ) 12 ) }}\n\t\t{{end}}" + // limit the number printed per line
		"{{$element.Name}}" +
		"{{end}}{{end}}\n" +
		"{{if .VisibleFlags}}\tOPTIONS:\t" +
		"{{ range $index, $flag := .VisibleFlags}}" +
		"{{if $index}}, {{end}}" +
		"--{{FlagName $flag }}" +
		"{{end}}{{end}}\n"

	// bare name-per-line lists (`rbd ls`, `radstore pool ls`)
	NamesTmpl = "{{ range $name := . }}{{ $name }}\n{{end}}"

	// `rbd ls -l` (snapshots list as image@snap)
	ImageListTmpl = "NAME\tSIZE\tPARENT\tFMT\tPROT\tLOCK\n" +
		"{{ range $img := . }}" +
		"{{ $img.Name }}\t{{ FmtSize $img.Size }}\t{{ FmtDash $img.Parent }}\t{{ $img.Format }}\t{{ $img.Protected }}\t{{ $img.Lock }}\n" +
		"{{end}}"

	// `rbd snap ls`
	SnapListTmpl = "SNAPID\tNAME\tSIZE\tPROTECTED\n" +
		"{{ range $s := . }}" +
		"{{ $s.ID }}\t{{ $s.Name }}\t{{ FmtSize $s.Size }}\t{{ $s.Protected }}\n" +
		"{{end}}"

	// `rbd lock ls`
	LockListTmpl = "LOCKER\tID\tADDRESS\n" +
		"{{ range $l := . }}" +
		"{{ $l.Locker }}\t{{ $l.ID }}\t{{ FmtDash $l.Address }}\n" +
		"{{end}}"

	// `rbd status`
	WatcherTmpl = "WATCHER\tCOOKIE\tTIMEOUT\n" +
		"{{ range $w := . }}" +
		"{{ $w.Addr }}\t{{ $w.Cookie }}\t{{ $w.TimeoutSeconds }}s\n" +
		"{{end}}"

	// `rbd showmapped`
	MappedTmpl = "ID\tPOOL\tIMAGE\tSNAP\tDEVICE\n" +
		"{{ range $m := . }}" +
		"{{ $m.ID }}\t{{ $m.Pool }}\t{{ $m.Image }}\t{{ FmtDash $m.Snap }}\t{{ $m.Device }}\n" +
		"{{end}}"

	// `rbd diff`
	DiffTmpl = "OFFSET\tLENGTH\tTYPE\n" +
		"{{ range $d := . }}" +
		"{{ $d.Offset }}\t{{ FmtSize $d.Length }}\t{{ $d.Type }}\n" +
		"{{end}}"

	// `radstore df` (over rados pool stats)
	DfTmpl = "POOL\tID\tOBJECTS\tUSED\n" +
		"{{ range $p := . }}" +
		"{{ $p.Name }}\t{{ $p.ID }}\t{{ $p.Objects }}\t{{ FmtSizeSig $p.Bytes }}\n" +
		"{{end}}"

	// `radstore bucket list`
	BucketListTmpl = "NAME\tOBJECTS\tSIZE\tCREATED\n" +
		"{{ range $b := . }}" +
		"{{ $b.Name }}\t{{ $b.Objects }}\t{{ FmtSize $b.Size }}\t{{ FmtTime $b.Created }}\n" +
		"{{end}}"

	// `radstore bucket stats`
	CategoryTmpl = "CATEGORY\tENTRIES\tSIZE\tSIZE-ROUNDED\n" +
		"{{ range $c := . }}" +
		"{{ $c.Category }}\t{{ $c.Entries }}\t{{ FmtSize $c.Size }}\t{{ FmtSize $c.SizeRounded }}\n" +
		"{{end}}"

	// `radstore bucket check`
	CheckTmpl = "SHARD\tOBJECTS\tSIZE\tCALCULATED-OBJECTS\tCALCULATED-SIZE\n" +
		"{{ range $r := . }}" +
		"{{ $r.Shard }}\t{{ $r.ExistingObjs }}\t{{ FmtSize $r.ExistingSize }}\t{{ $r.CalcObjs }}\t{{ FmtSize $r.CalcSize }}\n" +
		"{{end}}"

	// `radstore usage show`
	UsageTmpl = "OWNER\tBUCKET\tTIME\tSENT\tRECEIVED\tOPS\tSUCCESSFUL\n" +
		"{{ range $u := . }}" +
		"{{ $u.Owner }}\t{{ $u.Bucket }}\t{{ FmtTime $u.Time }}\t{{ FmtSize $u.BytesSent }}\t{{ FmtSize $u.BytesReceived }}\t{{ $u.Ops }}\t{{ $u.SuccessfulOps }}\n" +
		"{{end}}"

	// `radstore datalog list`
	DataLogTmpl = "TIMESTAMP\tKEY\tLOG-ID\n" +
		"{{ range $c := . }}" +
		"{{ FmtTime $c.Timestamp }}\t{{ $c.Key }}\t{{ $c.LogID }}\n" +
		"{{end}}"

	// `radstore datalog info` (over one shard's log header)
	DataLogInfoTmpl = "PROPERTY\tVALUE\n" +
		"max_time\t{{ FmtTime .MaxTime }}\n" +
		"max_marker\t{{ FmtDash .MaxMarker }}\n" +
		"entries\t{{ .Counter }}\n"

	// `radstore usage stats` (over a user's storage totals)
	UserStatsTmpl = "PROPERTY\tVALUE\n" +
		"objects\t{{ .NumObjects }}\n" +
		"kb\t{{ .NumKB }}\n" +
		"kb_rounded\t{{ .NumKBRounded }}\n"

	// `radstore gc list`
	GCListTmpl = "TAG\tEXPIRATION\tOBJECTS\n" +
		"{{ range $g := . }}" +
		"{{ $g.Tag }}\t{{ FmtTime $g.Expiration }}\t{{ $g.Objects }}\n" +
		"{{end}}"

	// `radstore quota get`
	QuotaTmpl = "ENABLED\tMAX-SIZE-KB\tMAX-OBJECTS\n" +
		"{{ FmtBool .Enabled }}\t{{ FmtLimit .MaxSizeKB }}\t{{ FmtLimit .MaxObjects }}\n"

	// `radstore blacklist ls` (over rados blocklist entries)
	BlacklistTmpl = "ADDRESS\tUNTIL\n" +
		"{{ range $b := . }}" +
		"{{ $b.Addr }}\t{{ FmtTime $b.Until }}\n" +
		"{{end}}"

	// `radstore pg log` (over pg-log entries)
	PGLogTmpl = "VERSION\tOP\tOBJECT\tPRIOR\tRC\tMTIME\tREQID\n" +
		"{{ range $e := . }}" +
		"{{ $e.Version }}\t{{ $e.Op }}\t{{ $e.Soid }}\t{{ $e.PriorVersion }}\t{{ FmtRC $e.ReturnCode }}\t{{ FmtTime $e.Mtime }}\t{{ $e.ReqID }}\n" +
		"{{end}}"

	// `radstore pg info` (over the per-PG summary record)
	PGInfoTmpl = "PROPERTY\tVALUE\n" +
		"last_update\t{{ .LastUpdate }}\n" +
		"last_complete\t{{ .LastComplete }}\n" +
		"log_tail\t{{ .LogTail }}\n" +
		"last_backfill\t{{ .LastBackfill }}\n" +
		"last_user_version\t{{ .LastUserVersion }}\n" +
		"objects\t{{ .Stats.ObjectCount }}\n" +
		"bytes\t{{ .Stats.ByteCount }}\n"
)

type (
	// ImageRow is one `rbd ls -l` line.
	ImageRow struct {
		Name      string `json:"name"`
		Size      uint64 `json:"size"`
		Parent    string `json:"parent,omitempty"`
		Format    int    `json:"format"`
		Protected string `json:"protected,omitempty"`
		Lock      string `json:"lock,omitempty"`
	}

	SnapRow struct {
		ID        uint64 `json:"id"`
		Name      string `json:"name"`
		Size      uint64 `json:"size"`
		Protected string `json:"protected,omitempty"`
	}

	LockRow struct {
		Locker  string `json:"locker"`
		ID      string `json:"id"`
		Address string `json:"address"`
	}

	MappedRow struct {
		ID     string `json:"id"`
		Pool   string `json:"pool"`
		Image  string `json:"image"`
		Snap   string `json:"snap,omitempty"`
		Device string `json:"device"`
	}

	DiffRow struct {
		Offset uint64 `json:"offset"`
		Length uint64 `json:"length"`
		Type   string `json:"type"`
	}

	// BucketRow is one bucket owned by a user.
	BucketRow struct {
		Name    string    `json:"name"`
		Objects uint64    `json:"objects"`
		Size    uint64    `json:"size"`
		Created time.Time `json:"created"`
	}

	// CategoryRow is one accounting category of a bucket index.
	CategoryRow struct {
		Category    string `json:"category"`
		Entries     uint64 `json:"entries"`
		Size        uint64 `json:"size"`
		SizeRounded uint64 `json:"size_rounded"`
	}

	// CheckRow compares stored vs recomputed index stats for one shard.
	CheckRow struct {
		Shard        int    `json:"shard"`
		ExistingObjs uint64 `json:"existing_objects"`
		ExistingSize uint64 `json:"existing_size"`
		CalcObjs     uint64 `json:"calculated_objects"`
		CalcSize     uint64 `json:"calculated_size"`
	}

	// UsageRow is one hour-bucketed usage record.
	UsageRow struct {
		Owner         string    `json:"owner"`
		Bucket        string    `json:"bucket"`
		Time          time.Time `json:"time"`
		BytesSent     uint64    `json:"bytes_sent"`
		BytesReceived uint64    `json:"bytes_received"`
		Ops           uint64    `json:"ops"`
		SuccessfulOps uint64    `json:"successful_ops"`
	}

	// ChangeRow is one data-log change notification.
	ChangeRow struct {
		Timestamp time.Time `json:"timestamp"`
		Key       string    `json:"key"`
		LogID     string    `json:"log_id"`
	}

	// GCRow is one deferred-removal chain.
	GCRow struct {
		Tag        string    `json:"tag"`
		Expiration time.Time `json:"expiration"`
		Objects    int       `json:"objects"`
	}
)
