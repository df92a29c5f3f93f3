// gridctl — консольный клиент зеркала: чтение схем и организаций
// через REST API сервера.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultServerURL = "http://localhost:8080"
	envServerURL     = "GRID_DAEMON_URL"

	defaultHTTPTimeout = 30 * time.Second

	formatTable = "table"
	formatCSV   = "csv"
)

// cliConfig хранит разобранные флаги и команду.
type cliConfig struct {
	ServerURL string
	ServiceID string
	AtBlock   int64
	Format    string
	Args      []string
}

func main() {
	if err := run(); err != nil {
		log.SetFlags(0)
		log.Printf("gridctl: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		return err
	}

	c := &client{
		baseURL: strings.TrimRight(cfg.ServerURL, "/"),
		http:    &http.Client{Timeout: defaultHTTPTimeout},
	}

	if len(cfg.Args) < 2 {
		return errors.New("ожидается команда: schema list | schema show <name> | organization list | organization show <id>")
	}

	entity, action := cfg.Args[0], cfg.Args[1]
	switch {
	case entity == "schema" && action == "list":
		return listSchemas(c, cfg)
	case entity == "schema" && action == "show":
		if len(cfg.Args) < 3 {
			return errors.New("ожидается имя схемы: gridctl schema show <name>")
		}
		return showSchema(c, cfg, cfg.Args[2])
	case entity == "organization" && action == "list":
		return listOrganizations(c, cfg)
	case entity == "organization" && action == "show":
		if len(cfg.Args) < 3 {
			return errors.New("ожидается идентификатор организации: gridctl organization show <id>")
		}
		return showOrganization(c, cfg, cfg.Args[2])
	default:
		return fmt.Errorf("неизвестная команда '%s %s'", entity, action)
	}
}

func parseCLIFlags(args []string) (*cliConfig, error) {
	cfg := &cliConfig{}

	fs := flag.NewFlagSet("gridctl", flag.ContinueOnError)
	fs.StringVar(&cfg.ServerURL, "url", "",
		fmt.Sprintf("Адрес сервера зеркала (env: %s, default: %s)", envServerURL, defaultServerURL))
	fs.StringVar(&cfg.ServiceID, "service-id", "", "Партиция service_id (smart-contract сервис)")
	fs.Int64Var(&cfg.AtBlock, "at-block", 0, "Показать состояние на указанном блоке")
	fs.StringVar(&cfg.Format, "format", formatTable, "Формат вывода: table или csv")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("ошибка разбора флагов: %w", err)
	}

	if cfg.ServerURL == "" {
		if value, ok := os.LookupEnv(envServerURL); ok {
			cfg.ServerURL = value
		} else {
			cfg.ServerURL = defaultServerURL
		}
	}
	if cfg.Format != formatTable && cfg.Format != formatCSV {
		return nil, fmt.Errorf("неизвестный формат вывода '%s'", cfg.Format)
	}

	cfg.Args = fs.Args()
	return cfg, nil
}

// client — минимальный HTTP-клиент читающего API зеркала.
type client struct {
	baseURL string
	http    *http.Client
}

// getJSON выполняет GET и декодирует JSON-ответ в out.
func (c *client) getJSON(path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	resp, err := c.http.Get(u)
	if err != nil {
		return fmt.Errorf("ошибка запроса к серверу: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("сервер вернул %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ошибка декодирования ответа: %w", err)
	}
	return nil
}

func (c *client) baseQuery(cfg *cliConfig) url.Values {
	query := url.Values{}
	if cfg.ServiceID != "" {
		query.Set("service_id", cfg.ServiceID)
	}
	return query
}
