/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package rgw

import (
	"fmt"
	"strings"
	"time"

	clslog "github.com/NVIDIA/radstore/cls/log"
	"github.com/NVIDIA/radstore/cmn/cos"
	jsoniter "github.com/json-iterator/go"
)

// The ops log records one entry per gateway operation on rotating log
// objects; the object name template rotates by wall clock and keys by
// bucket.

type OpsLogEntry struct {
	Time          time.Time `json:"time"`
	Owner         string    `json:"owner"`
	Bucket        string    `json:"bucket"`
	Object        string    `json:"object,omitempty"`
	Op            string    `json:"op"`
	Status        string    `json:"status"`
	BytesSent     uint64    `json:"bytes_sent,omitempty"`
	BytesReceived uint64    `json:"bytes_received,omitempty"`
	TotalTime     int64     `json:"total_time_ms,omitempty"`
}

// LogObjectName renders the configured ops-log object name for a bucket
// at time t.
func (s *Store) LogObjectName(bi *BucketInfo, t time.Time) string {
	return renderLogObjectName(s.cfg.OpsLog.ObjectName, bi, t, s.cfg.OpsLog.UTC)
}

// LogOp appends one entry to the bucket's current ops-log object.
func (s *Store) LogOp(bi *BucketInfo, e *OpsLogEntry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Bucket == "" {
		e.Bucket = bi.Bucket.Name
	}
	data, err := jsoniter.Marshal(e)
	if err != nil {
		return err
	}
	ix, err := s.ioctxCreate(s.cfg.LogPool)
	if err != nil {
		return err
	}
	in := cos.PackBytes(&clslog.AddOp{
		Entries: []clslog.Entry{{
			Timestamp: e.Time,
			Section:   e.Owner,
			Name:      e.Bucket,
			Data:      data,
		}},
		MonotonicInc: true,
	})
	_, err = ix.Exec(s.LogObjectName(bi, e.Time), "log", "add", in)
	return err
}

// ListOpsLog reads back entries from one ops-log object within
// [from, to); a zero `to` means no upper bound.
func (s *Store) ListOpsLog(obj string, from, to time.Time, marker string, max int) (entries []OpsLogEntry, nextMarker string, truncated bool, _ error) {
	if max <= 0 || max > listMaxDefault {
		max = listMaxDefault
	}
	ix, err := s.ioctx(s.cfg.LogPool)
	if err != nil {
		return nil, "", false, err
	}
	in := cos.PackBytes(&clslog.ListOp{From: from, To: to, Marker: marker, Max: uint32(max)})
	out, err := ix.Exec(obj, "log", "list", in)
	if err != nil {
		if cos.IsErrNotFound(err) {
			return nil, "", false, nil
		}
		return nil, "", false, err
	}
	reply := &clslog.ListReply{}
	if err := cos.UnpackBytes(out, reply); err != nil {
		return nil, "", false, err
	}
	entries = make([]OpsLogEntry, 0, len(reply.Entries))
	for i := range reply.Entries {
		var e OpsLogEntry
		if err := jsoniter.Unmarshal(reply.Entries[i].Data, &e); err != nil {
			return nil, "", false, fmt.Errorf("ops log %s: %w", obj, cos.ErrBadMsg)
		}
		entries = append(entries, e)
	}
	return entries, reply.Marker, reply.Truncated, nil
}

// renderLogObjectName expands the strftime-like template: %Y %y %m %d
// %H %I %k %l %M for the timestamp, %i bucket id, %n bucket name, %%
// a literal percent.
func renderLogObjectName(format string, bi *BucketInfo, t time.Time, utc bool) string {
	if utc {
		t = t.UTC()
	}
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			sb.WriteByte('%')
			break
		}
		switch format[i] {
		case '%':
			sb.WriteByte('%')
		case 'Y':
			fmt.Fprintf(&sb, "%.4d", t.Year())
		case 'y':
			fmt.Fprintf(&sb, "%.2d", t.Year()%100)
		case 'm':
			fmt.Fprintf(&sb, "%.2d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&sb, "%.2d", t.Day())
		case 'H':
			fmt.Fprintf(&sb, "%.2d", t.Hour())
		case 'I':
			fmt.Fprintf(&sb, "%.2d", hour12(t.Hour()))
		case 'k':
			fmt.Fprintf(&sb, "%d", t.Hour())
		case 'l':
			fmt.Fprintf(&sb, "%d", hour12(t.Hour()))
		case 'M':
			fmt.Fprintf(&sb, "%.2d", t.Minute())
		case 'i':
			sb.WriteString(bi.Bucket.BucketID)
		case 'n':
			sb.WriteString(bi.Bucket.Name)
		default:
			sb.WriteByte('%')
			sb.WriteByte(format[i])
		}
	}
	return sb.String()
}

func hour12(h int) int { return (h+11)%12 + 1 }
