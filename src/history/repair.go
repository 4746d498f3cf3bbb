package history

import (
	"os"
	"sort"

	"github.com/sirupsen/logrus"
)

// gapThreshold 同一场次内相邻记录的最大间隔（秒）。
// 超过即认为录制时掉了场次边界，需要把后半段拆成新场次。
const gapThreshold = 15 * 60

// record 修复过程中的一条记录，raw 保留原始行字节
type record struct {
	ts   int64
	kind Kind
	raw  []byte
}

// RepairAll 启动时的整库体检：先并掉跨场次重叠，再拆时间断层。
// 所有错误只记日志，坏一个房间不影响其他房间。
func (s *Store) RepairAll() {
	rooms, err := s.Rooms()
	if err != nil {
		logrus.WithError(err).Error("扫描历史目录失败")
		return
	}
	logrus.WithField("rooms", len(rooms)).Info("开始检查历史场次")
	for _, roomID := range rooms {
		if err := s.RepairOverlaps(roomID); err != nil {
			logrus.WithError(err).WithField("room", roomID).Error("场次重叠修复失败")
		}
		if err := s.RepairGaps(roomID); err != nil {
			logrus.WithError(err).WithField("room", roomID).Error("场次断层修复失败")
		}
	}
	logrus.Info("历史场次检查完成")
}

// RepairOverlaps 把误写进前一场次、时间上已属于后一场次的记录搬过去。
// 按场次号升序逐对处理：前一场次中时间戳 >= 后一场次号的记录移入后者，
// 之后对后者重新排序。
func (s *Store) RepairOverlaps(roomID int64) error {
	sessions, err := s.sessionsAsc(roomID)
	if err != nil {
		return err
	}
	for i := 0; i+1 < len(sessions); i++ {
		earlier, later := sessions[i], sessions[i+1]
		records, err := s.loadRecords(roomID, earlier)
		if err != nil {
			return err
		}

		var keep, move []record
		for _, rec := range records {
			if rec.ts >= later {
				move = append(move, rec)
			} else {
				keep = append(keep, rec)
			}
		}
		if len(move) == 0 {
			continue
		}

		logrus.WithFields(logrus.Fields{
			"room": roomID, "from": earlier, "to": later, "records": len(move),
		}).Info("搬移跨场次记录")
		if err := s.appendRecords(roomID, later, move); err != nil {
			return err
		}
		if err := s.rewriteSession(roomID, earlier, keep); err != nil {
			return err
		}
		if err := s.SortSession(roomID, later); err != nil {
			return err
		}
	}
	return nil
}

// RepairGaps 在每个场次里找超过 gapThreshold 的时间断层，从第一个断层
// 处拆出新场次（场次号取断层后第一条记录的时间戳）。新场次会回到
// 待检查列表里，直到所有场次都没有断层为止。
func (s *Store) RepairGaps(roomID int64) error {
	sessions, err := s.sessionsAsc(roomID)
	if err != nil {
		return err
	}
	for i := 0; i < len(sessions); i++ {
		newID, err := s.splitAtGap(roomID, sessions[i])
		if err != nil {
			return err
		}
		if newID == 0 {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"room": roomID, "session": sessions[i], "new_session": newID,
		}).Info("场次断层已拆分")
		if !containsID(sessions, newID) {
			idx := i + 1
			for idx < len(sessions) && sessions[idx] < newID {
				idx++
			}
			sessions = append(sessions, 0)
			copy(sessions[idx+1:], sessions[idx:])
			sessions[idx] = newID
		}
	}
	return nil
}

// splitAtGap 找第一个断层并拆分，没有断层返回 0
func (s *Store) splitAtGap(roomID, sessionID int64) (int64, error) {
	records, err := s.loadRecords(roomID, sessionID)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	// ts 为 0 的行不参与断层判定，留在原场次
	start := 0
	for start < len(records) && records[start].ts == 0 {
		start++
	}
	splitIdx := -1
	for i := start; i+1 < len(records); i++ {
		if records[i+1].ts-records[i].ts > gapThreshold {
			splitIdx = i + 1
			break
		}
	}
	if splitIdx < 0 {
		return 0, nil
	}

	keep, move := records[:splitIdx], records[splitIdx:]
	newID := move[0].ts
	if newID == sessionID {
		// 不可能拆出同名场次，放弃这个断层
		return 0, nil
	}
	if err := s.appendRecords(roomID, newID, move); err != nil {
		return 0, err
	}
	if err := s.rewriteSession(roomID, sessionID, keep); err != nil {
		return 0, err
	}
	return newID, nil
}

// SortSession 把场次的每个类别文件按时间升序重写
func (s *Store) SortSession(roomID, sessionID int64) error {
	for _, kind := range Kinds {
		lines, err := readLines(s.kindFile(roomID, sessionID, kind))
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			continue
		}
		sort.SliceStable(lines, func(i, j int) bool {
			return recordTime(lines[i]) < recordTime(lines[j])
		})
		if err := s.writeKind(roomID, sessionID, kind, lines); err != nil {
			return err
		}
	}
	return nil
}

// loadRecords 合并场次的所有类别，按时间升序。取不出时间戳的行
// ts 记为 0 照样保留，重写时不会弄丢，排序后落在最前。
func (s *Store) loadRecords(roomID, sessionID int64) ([]record, error) {
	var records []record
	for _, kind := range Kinds {
		lines, err := readLines(s.kindFile(roomID, sessionID, kind))
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			records = append(records, record{ts: recordTime(line), kind: kind, raw: line})
		}
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].ts < records[j].ts })
	return records, nil
}

func (s *Store) appendRecords(roomID, sessionID int64, records []record) error {
	grouped := groupByKind(records)
	for _, kind := range Kinds {
		if err := s.appendLines(roomID, sessionID, kind, grouped[kind]); err != nil {
			return err
		}
	}
	return nil
}

// rewriteSession 用保留的记录重写场次，某类别没有记录就删掉它的文件
func (s *Store) rewriteSession(roomID, sessionID int64, records []record) error {
	grouped := groupByKind(records)
	for _, kind := range Kinds {
		if err := s.writeKind(roomID, sessionID, kind, grouped[kind]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeKind(roomID, sessionID int64, kind Kind, lines [][]byte) error {
	path := s.kindFile(roomID, sessionID, kind)
	if len(lines) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	buf := make([]byte, 0, 256*len(lines))
	for _, line := range lines {
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return os.WriteFile(path, buf, 0o644)
}

func groupByKind(records []record) map[Kind][][]byte {
	grouped := make(map[Kind][][]byte, len(Kinds))
	for _, rec := range records {
		grouped[rec.kind] = append(grouped[rec.kind], rec.raw)
	}
	return grouped
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (s *Store) sessionsAsc(roomID int64) ([]int64, error) {
	ids, err := numericDirs(s.roomDir(roomID))
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
