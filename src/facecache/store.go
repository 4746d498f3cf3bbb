// Package facecache 用户头像缓存。
// 弹幕协议大多数时候自带头像；缺失时先回默认图，后台再慢慢补拉，
// 结果持久化到 sqlite，进程内再挂一层 LRU。
package facecache

import (
	"database/sql"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/hr3lxphr6j/requests"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"

	"github.com/chenguaself/blive-danmaku/src/danmaku"
	"github.com/chenguaself/blive-danmaku/src/pkg/sentry"
)

const (
	userInfoURL = "https://api.bilibili.com/x/space/acc/info"
	userAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	cacheSize = 4096
	// rateLimitCD 被上游限速(-412)后的冷却时间
	rateLimitCD = 5 * time.Minute
)

const schema = `
CREATE TABLE IF NOT EXISTS faces (
	uid        INTEGER PRIMARY KEY,
	url        TEXT    NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Store 头像缓存
type Store struct {
	db      *sql.DB
	cache   gcache.Cache
	session *requests.Session
	cookies map[string]string

	mu               sync.Mutex
	fetching         map[int64]struct{}
	rateLimitedUntil time.Time

	// fetch 可注入，测试用
	fetch func(uid int64) (string, error)
}

func NewStore(dbPath string, cookieKVs map[string]string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开头像数据库失败: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化头像数据库失败: %w", err)
	}

	s := &Store{
		db:       db,
		cache:    gcache.New(cacheSize).LRU().Build(),
		session:  requests.NewSession(&http.Client{Timeout: 8 * time.Second}),
		cookies:  cookieKVs,
		fetching: make(map[int64]struct{}),
	}
	s.fetch = s.fetchFromUpstream
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get 查头像。没有命中时返回默认头像并在后台补拉，绝不阻塞调用方。
func (s *Store) Get(uid int64) string {
	if uid == 0 {
		return danmaku.DefaultFace
	}
	if v, err := s.cache.Get(uid); err == nil {
		return v.(string)
	}

	var url string
	err := s.db.QueryRow("SELECT url FROM faces WHERE uid = ?", uid).Scan(&url)
	if err == nil && url != "" {
		s.cache.Set(uid, url)
		return url
	}
	if err != nil && err != sql.ErrNoRows {
		logrus.WithError(err).Warn("头像数据库查询失败")
	}

	s.fetchInBackground(uid)
	return danmaku.DefaultFace
}

// Put 写入头像（弹幕协议自带的头像也从这里进来）
func (s *Store) Put(uid int64, url string) {
	if uid == 0 || url == "" || url == danmaku.DefaultFace {
		return
	}
	if v, err := s.cache.Get(uid); err == nil && v.(string) == url {
		return
	}
	s.cache.Set(uid, url)
	if _, err := s.db.Exec(
		"INSERT INTO faces (uid, url, updated_at) VALUES (?, ?, ?) "+
			"ON CONFLICT(uid) DO UPDATE SET url = excluded.url, updated_at = excluded.updated_at",
		uid, url, time.Now().Unix(),
	); err != nil {
		logrus.WithError(err).Warn("头像数据库写入失败")
	}
}

// fetchInBackground 后台补拉，同一 uid 不并发重复拉
func (s *Store) fetchInBackground(uid int64) {
	s.mu.Lock()
	if time.Now().Before(s.rateLimitedUntil) {
		s.mu.Unlock()
		return
	}
	if _, ok := s.fetching[uid]; ok {
		s.mu.Unlock()
		return
	}
	s.fetching[uid] = struct{}{}
	s.mu.Unlock()

	sentry.Go(func() {
		defer func() {
			s.mu.Lock()
			delete(s.fetching, uid)
			s.mu.Unlock()
		}()
		// 随机延迟 1~3 秒，避免触发上游频率限制
		time.Sleep(time.Second + time.Duration(rand.Int63n(int64(2*time.Second))))

		url, err := s.fetch(uid)
		if err != nil {
			logrus.WithError(err).WithField("uid", uid).Debug("后台获取头像失败")
			return
		}
		s.Put(uid, url)
	})
}

func (s *Store) fetchFromUpstream(uid int64) (string, error) {
	resp, err := s.session.Get(userInfoURL,
		requests.UserAgent(userAgent),
		requests.Cookies(s.cookies),
		requests.Query("mid", strconv.FormatInt(uid, 10)),
	)
	if err != nil {
		return "", err
	}
	body, err := resp.Bytes()
	if err != nil {
		return "", err
	}
	code := gjson.GetBytes(body, "code").Int()
	if code == -412 {
		// 被限速了，冷却一段时间再说
		s.mu.Lock()
		s.rateLimitedUntil = time.Now().Add(rateLimitCD)
		s.mu.Unlock()
		return "", fmt.Errorf("上游限速(-412)，冷却 %s", rateLimitCD)
	}
	if code != 0 {
		return "", fmt.Errorf("上游业务错误 %d", code)
	}
	face := gjson.GetBytes(body, "data.face").String()
	if face == "" {
		return "", fmt.Errorf("uid %d 无头像字段", uid)
	}
	return face, nil
}
