package utils

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Retry 尝试执行 fn，如果失败则重试，最多 retries 次
// delay 是两次重试之间的间隔，backoff=true 表示指数退避
func Retry(ctx context.Context, retries int, delay time.Duration, backoff bool, fn func() error) error {
	var err error
	for i := 0; i < retries; i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if i < retries-1 { // 最后一次就不用 sleep 了
			sleep := delay
			if backoff {
				sleep = delay * time.Duration(1<<i) // 1x,2x,4x,8x...
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("after %d attempts, last error: %w", i+1, err)
			case <-time.After(sleep):
			}
		}
	}
	return fmt.Errorf("after %d attempts, last error: %w", retries, err)
}

// FormatSymbol 将 TradingView ticker 转换为券商可识别的 symbol
// 去掉交易所前缀（CME_MINI:NQ1! → NQ1!），再按 aliases 映射（NQ1! → NQM5），键不区分大小写
func FormatSymbol(tvSymbol string, aliases map[string]string) string {
	symbol := strings.TrimSpace(tvSymbol)
	if alias, ok := lookup(aliases, symbol); ok {
		return alias
	}
	if i := strings.LastIndex(symbol, ":"); i >= 0 {
		symbol = symbol[i+1:]
	}
	if alias, ok := lookup(aliases, symbol); ok {
		return alias
	}
	// 没匹配到就返回去掉前缀后的值
	return symbol
}

func lookup(aliases map[string]string, key string) (string, bool) {
	for k, v := range aliases {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
