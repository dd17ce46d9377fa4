package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/betbot/oraclebot/pkg/secretstore"
)

// 把 .env 里的 POLY_* 凭证导入 badger 密钥库，
// 之后 bot 可以在没有环境变量的机器上从密钥库兜底读取。
func main() {
	var (
		inPath = flag.String("in", ".env", ".env 文件路径")
		dbPath = flag.String("db", "data/secrets", "badger 密钥库路径")
	)
	flag.Parse()

	kv, err := parseDotEnvFile(*inPath)
	if err != nil {
		fatal(err)
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{Path: *dbPath})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	written := 0
	for k, v := range kv {
		if !strings.HasPrefix(k, "POLY_") {
			continue
		}
		if err := ss.SetString(k, v); err != nil {
			fatal(err)
		}
		written++
	}
	fmt.Fprintf(os.Stderr, "已导入 %d 项到 %s\n", written, *dbPath)
}

func parseDotEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"'`)
	}
	return out, scanner.Err()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "错误:", err)
	os.Exit(1)
}
