// Package history 按 房间/场次/类别 组织的追加式 JSONL 历史存储。
// 记录一经写入原样保留，场次修复只搬动整行字节，不做重新序列化。
package history

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/chenguaself/blive-danmaku/src/danmaku"
)

// Kind 落盘类别，对应场次目录下的 <kind>.jsonl
type Kind string

const (
	KindDanmaku   Kind = "danmaku"
	KindGift      Kind = "gift"
	KindGuard     Kind = "guard"
	KindSuperChat Kind = "superchat"
)

// Kinds 全部落盘类别
var Kinds = []Kind{KindDanmaku, KindGift, KindGuard, KindSuperChat}

// KindOf 事件到落盘类别的映射，不落盘的事件返回空串
func KindOf(ev danmaku.Event) Kind {
	switch ev.EventKind() {
	case danmaku.KindChat:
		return KindDanmaku
	case danmaku.KindGift:
		return KindGift
	case danmaku.KindGuard:
		return KindGuard
	case danmaku.KindSuperChat:
		return KindSuperChat
	default:
		return ""
	}
}

// Store JSONL 历史存储，root 是 <dataDir>/history
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) roomDir(roomID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(roomID, 10))
}

func (s *Store) sessionDir(roomID, sessionID int64) string {
	return filepath.Join(s.roomDir(roomID), strconv.FormatInt(sessionID, 10))
}

func (s *Store) kindFile(roomID, sessionID int64, kind Kind) string {
	return filepath.Join(s.sessionDir(roomID, sessionID), string(kind)+".jsonl")
}

// Append 追加一条事件。尽力而为：失败只记日志，绝不影响实时流。
func (s *Store) Append(roomID, sessionID int64, ev danmaku.Event) {
	if roomID == 0 || sessionID == 0 {
		return
	}
	kind := KindOf(ev)
	if kind == "" {
		return
	}
	line, err := danmaku.Marshal(ev)
	if err != nil {
		logrus.WithError(err).Error("历史记录序列化失败")
		return
	}
	if err := s.appendLines(roomID, sessionID, kind, [][]byte{line}); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"room": roomID, "session": sessionID, "kind": kind,
		}).Error("历史记录写入失败")
	}
}

func (s *Store) appendLines(roomID, sessionID int64, kind Kind, lines [][]byte) error {
	if len(lines) == 0 {
		return nil
	}
	dir := s.sessionDir(roomID, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.kindFile(roomID, sessionID, kind), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.Write(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Load 读取一个场次的全部类别。同一类别内按指纹去重，先出现的保留，
// 顺序不变。场次不存在时返回 os.ErrNotExist。
func (s *Store) Load(roomID, sessionID int64) (map[Kind][][]byte, error) {
	dir := s.sessionDir(roomID, sessionID)
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}

	out := make(map[Kind][][]byte, len(Kinds))
	for _, kind := range Kinds {
		lines, err := readLines(s.kindFile(roomID, sessionID, kind))
		if err != nil {
			logrus.WithError(err).WithField("kind", kind).Error("历史记录读取失败")
			out[kind] = nil
			continue
		}
		out[kind] = dedup(kind, lines)
	}
	return out, nil
}

// LoadMerged 把一个场次的全部类别按时间升序合成一条线，用于回放。
// 去重规则与 Load 相同。
func (s *Store) LoadMerged(roomID, sessionID int64) ([][]byte, error) {
	loaded, err := s.Load(roomID, sessionID)
	if err != nil {
		return nil, err
	}
	var lines [][]byte
	for _, kind := range Kinds {
		lines = append(lines, loaded[kind]...)
	}
	sort.SliceStable(lines, func(i, j int) bool {
		return recordTime(lines[i]) < recordTime(lines[j])
	})
	return lines, nil
}

// ListSessions 房间的场次号列表，降序。房间不存在时返回空表。
func (s *Store) ListSessions(roomID int64) ([]int64, error) {
	ids, err := numericDirs(s.roomDir(roomID))
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids, nil
}

// Rooms 存储中出现过的全部房间号
func (s *Store) Rooms() ([]int64, error) {
	ids, err := numericDirs(s.root)
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func numericDirs(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		line := make([]byte, len(raw))
		copy(line, raw)
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// dedup 按类别指纹去重，识别不出指纹的整行当指纹
func dedup(kind Kind, lines [][]byte) [][]byte {
	if len(lines) == 0 {
		return lines
	}
	seen := make(map[string]struct{}, len(lines))
	out := lines[:0]
	for _, line := range lines {
		fp := fingerprint(kind, line)
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, line)
	}
	return out
}

func fingerprint(kind Kind, line []byte) string {
	r := gjson.ParseBytes(line)
	switch kind {
	case KindDanmaku:
		return fmt.Sprintf("%d|%d|%s",
			r.Get("timestamp").Int(), r.Get("user.uid").Int(), r.Get("content").String())
	case KindGift:
		return fmt.Sprintf("%d|%d|%d|%d|%d",
			r.Get("timestamp").Int(), r.Get("user.uid").Int(),
			r.Get("giftId").Int(), r.Get("num").Int(), r.Get("price").Int())
	case KindSuperChat:
		return fmt.Sprintf("%d|%d|%d",
			r.Get("time").Int(), r.Get("user.uid").Int(), r.Get("price").Int())
	case KindGuard:
		return fmt.Sprintf("%d|%d|%d",
			r.Get("timestamp").Int(), r.Get("user.uid").Int(), r.Get("guardLevel").Int())
	default:
		return string(line)
	}
}

// recordTime 取记录时间戳：先 timestamp 后 time，毫秒归一成秒
func recordTime(line []byte) int64 {
	r := gjson.ParseBytes(line)
	ts := r.Get("timestamp").Int()
	if ts == 0 {
		ts = r.Get("time").Int()
	}
	if ts > 10000000000 {
		ts /= 1000
	}
	return ts
}
