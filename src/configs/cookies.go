package configs

import (
	"strconv"
	"strings"
)

// ParseCookieKVs 将 "k1=v1; k2=v2" 形式的 Cookie 串拆为键值表，
// 供 requests.Cookies 使用。
func ParseCookieKVs(cookies string) map[string]string {
	kvs := make(map[string]string)
	for _, pairStr := range strings.Split(cookies, ";") {
		pairs := strings.SplitN(pairStr, "=", 2)
		if len(pairs) != 2 {
			continue
		}
		kvs[strings.TrimSpace(pairs[0])] = strings.TrimSpace(pairs[1])
	}
	return kvs
}

func parseCookieUID(cookies string) int64 {
	v, ok := ParseCookieKVs(cookies)["DedeUserID"]
	if !ok {
		return 0
	}
	uid, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return uid
}
