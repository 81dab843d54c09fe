package ustream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"
)

type commandKind int

const (
	commandWarning commandKind = iota + 1
	commandReject
	commandModuleInfo
)

type subKind int

const (
	subWarningCode subKind = iota + 1
	subRejectNonexistent
	subRejectGeoLock
	subRejectCluster
	subRejectReferrerLock
	subModuleInfoCdnConfig
	subModuleInfoStream
)

type subEntry struct {
	key  string
	kind subKind
}

type commandEntry struct {
	kind commandKind
	subs []subEntry
}

// two level dispatch table, sub keys are probed in this order
var commandTable = map[string]commandEntry{
	"warning": {commandWarning, []subEntry{
		{"code", subWarningCode},
	}},
	"reject": {commandReject, []subEntry{
		{"nonexistent", subRejectNonexistent},
		{"geoLock", subRejectGeoLock},
		{"cluster", subRejectCluster},
		{"referrerLock", subRejectReferrerLock},
	}},
	"moduleInfo": {commandModuleInfo, []subEntry{
		{"cdnConfig", subModuleInfoCdnConfig},
		{"stream", subModuleInfoStream},
	}},
}

type command struct {
	Name string
	Kind commandKind
	Sub  subKind
	Key  string
	// whole argument object
	Arg map[string]json.RawMessage
	// value stored under Key
	Data json.RawMessage
}

type message struct {
	Cmd  string                       `json:"cmd"`
	Args []map[string]json.RawMessage `json:"args"`
}

var errInvalidFrame = errors.New("invalid frame")

// parseCommands decodes a text frame into the commands it carries. Unknown
// commands and sub keys produce no entries.
func parseCommands(frame []byte) ([]command, error) {
	var msg message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidFrame, err)
	}

	if msg.Cmd == "" {
		return nil, fmt.Errorf("%w: missing cmd", errInvalidFrame)
	}

	if msg.Args == nil {
		return nil, fmt.Errorf("%w: missing args", errInvalidFrame)
	}

	entry, ok := commandTable[msg.Cmd]
	if !ok {
		return nil, nil
	}

	var commands []command
	for _, arg := range msg.Args {
		for _, sub := range entry.subs {
			data, ok := arg[sub.key]
			if !ok || string(data) == "null" {
				continue
			}

			commands = append(commands, command{
				Name: msg.Cmd,
				Kind: entry.kind,
				Sub:  sub.kind,
				Key:  sub.key,
				Arg:  arg,
				Data: data,
			})
		}
	}

	return commands, nil
}

func encodeConnect(c connectArgs) ([]byte, error) {
	return json.Marshal(struct {
		Cmd  string        `json:"cmd"`
		Args []connectArgs `json:"args"`
	}{
		Cmd:  "connect",
		Args: []connectArgs{c},
	})
}

type connectArgs struct {
	Type        string  `json:"type"`
	AppID       int     `json:"appId"`
	AppVersion  int     `json:"appVersion"`
	RSID        string  `json:"rsid"`
	RPIN        string  `json:"rpin"`
	Referrer    *string `json:"referrer"`
	ClusterHost string  `json:"clusterHost"`
	Media       string  `json:"media"`
	Application string  `json:"application"`
	Password    *string `json:"password,omitempty"`
}

// clusterHost is substituted by the server, it is sent verbatim
const clusterHost = "r%rnd%-1-%mediaId%-%mediaType%-%protocolPrefix%-%cluster%.ums.ustream.tv"

//
// warning
//

type warningData struct {
	Code    json.RawMessage `json:"code"`
	Message json.RawMessage `json:"message"`
}

func (w warningData) text() (string, string) {
	return rawText(w.Code), truncate(rawText(w.Message), 50)
}

func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

//
// reject
//

type clusterData struct {
	Name string `json:"name"`
}

type referrerLockData struct {
	RedirectURL string `json:"redirectUrl"`
}

//
// moduleInfo/cdnConfig
//

type cdnConfigData struct {
	Protocol string `json:"protocol"`
	Data     []struct {
		Data []struct {
			Sites []struct {
				Host string `json:"host"`
				Path string `json:"path"`
			} `json:"sites"`
		} `json:"data"`
	} `json:"data"`
}

func parseCdnConfig(raw json.RawMessage) (*url.URL, error) {
	var data cdnConfigData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	if data.Protocol == "" {
		return nil, errors.New("missing protocol")
	}

	if len(data.Data) == 0 || len(data.Data[0].Data) == 0 || len(data.Data[0].Data[0].Sites) == 0 {
		return nil, errors.New("missing cdn site")
	}

	site := data.Data[0].Data[0].Sites[0]
	if site.Host == "" {
		return nil, errors.New("missing cdn host")
	}

	return &url.URL{
		Scheme: data.Protocol,
		Host:   site.Host,
		Path:   site.Path,
	}, nil
}

//
// moduleInfo/stream
//

const segmentedFormat = "mp4/segmented"

type streamData struct {
	ContentAvailable *bool                      `json:"contentAvailable"`
	StreamFormats    map[string]json.RawMessage `json:"streamFormats"`
}

func parseStream(raw json.RawMessage) (*streamData, error) {
	var data streamData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// segmented returns the mp4/segmented payload, if present.
func (s *streamData) segmented() (json.RawMessage, bool) {
	raw, ok := s.StreamFormats[segmentedFormat]
	if !ok || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}

type formatEntry struct {
	ContentType   *string `json:"contentType"`
	SourceVersion *int    `json:"sourceStreamVersion"`
	InitURL       *string `json:"initUrl"`
	SegmentURL    *string `json:"segmentUrl"`
	Bitrate       *int    `json:"bitrate"`
	Height        *int    `json:"height"`
	Language      *string `json:"language"`
}

func (e formatEntry) common() bool {
	return e.SourceVersion != nil && e.InitURL != nil && e.SegmentURL != nil && e.Bitrate != nil
}

// parseFormats partitions the streams array into video and audio renditions.
// Entries that match neither shape are skipped.
func parseFormats(raw json.RawMessage) ([]VideoFormat, []AudioFormat, error) {
	var payload struct {
		Streams []json.RawMessage `json:"streams"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, fmt.Errorf("streams: %w", err)
	}

	if payload.Streams == nil {
		return nil, nil, errors.New("streams: missing")
	}

	video := []VideoFormat{}
	audio := []AudioFormat{}

	for _, item := range payload.Streams {
		var e formatEntry
		if err := json.Unmarshal(item, &e); err != nil || e.ContentType == nil || !e.common() {
			continue
		}

		switch *e.ContentType {
		case ContentTypeVideo:
			if e.Height == nil {
				continue
			}
			video = append(video, VideoFormat{
				SourceVersion: *e.SourceVersion,
				InitURL:       *e.InitURL,
				SegmentURL:    *e.SegmentURL,
				BitrateValue:  *e.Bitrate,
				Height:        *e.Height,
			})
		case ContentTypeAudio:
			f := AudioFormat{
				SourceVersion: *e.SourceVersion,
				InitURL:       *e.InitURL,
				SegmentURL:    *e.SegmentURL,
				BitrateValue:  *e.Bitrate,
			}
			if e.Language != nil {
				f.Language = *e.Language
			}
			audio = append(audio, f)
		}
	}

	return video, audio, nil
}

type segmentTable struct {
	ChunkID   int64
	ChunkTime int
	Path      string
	// ascending hash table keys
	IDs    []int64
	Hashes map[int64]string
}

func parseSegmentTable(raw json.RawMessage) (*segmentTable, error) {
	var payload struct {
		ChunkID       *int64 `json:"chunkId"`
		ChunkTime     *int   `json:"chunkTime"`
		ContentAccess struct {
			AccessList []struct {
				Data struct {
					Path *string `json:"path"`
				} `json:"data"`
			} `json:"accessList"`
		} `json:"contentAccess"`
		Hashes map[string]string `json:"hashes"`
	}

	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	if payload.ChunkID == nil {
		return nil, errors.New("chunkId: missing")
	}

	if payload.ChunkTime == nil {
		return nil, errors.New("chunkTime: missing")
	}

	access := payload.ContentAccess.AccessList
	if len(access) == 0 || access[0].Data.Path == nil {
		return nil, errors.New("contentAccess: missing path")
	}

	if payload.Hashes == nil {
		return nil, errors.New("hashes: missing")
	}

	table := &segmentTable{
		ChunkID:   *payload.ChunkID,
		ChunkTime: *payload.ChunkTime,
		Path:      *access[0].Data.Path,
		Hashes:    make(map[int64]string, len(payload.Hashes)),
	}

	for key, hash := range payload.Hashes {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("hashes: invalid key %q: %w", key, err)
		}
		table.Hashes[id] = hash
		table.IDs = append(table.IDs, id)
	}

	sort.Slice(table.IDs, func(i, j int) bool { return table.IDs[i] < table.IDs[j] })
	return table, nil
}

// maxSegmentGap bounds the distance between adjacent hash keys. A larger gap
// would extrapolate an unbounded number of segments.
const maxSegmentGap = 1000

// check rejects tables whose hash keys are too far apart.
func (t *segmentTable) check() error {
	for i := 1; i < len(t.IDs); i++ {
		if gap := t.IDs[i] - t.IDs[i-1]; gap > maxSegmentGap {
			return fmt.Errorf("hashes: gap %d between %d and %d exceeds %d", gap, t.IDs[i-1], t.IDs[i], maxSegmentGap)
		}
	}
	return nil
}

// expand interpolates every segment number covered by the hash table. Each key
// covers the numbers up to the next key, the last key repeats the previous
// gap, and a single key extends to the next decimal boundary.
func (t *segmentTable) expand(now time.Time) []Segment {
	duration := time.Duration(t.ChunkTime) * time.Millisecond

	var segments []Segment
	var diff int64

	n := len(t.IDs)
	for i, id := range t.IDs {
		if i < n-1 {
			diff = t.IDs[i+1] - id
		} else if n == 1 {
			diff = 10 - id%10
		}

		hash := t.Hashes[id]
		for num := id; num < id+diff; num++ {
			segments = append(segments, Segment{
				Num:         num,
				Duration:    duration,
				AvailableAt: now.Add(time.Duration(num-t.ChunkID-1) * duration),
				Hash:        hash,
				Path:        t.Path,
			})
		}
	}

	return segments
}
