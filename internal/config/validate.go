package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-field rules tags can't express.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	var problems []string
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			problems = append(problems, lo.Map(verrs, func(fe validator.FieldError, _ int) string {
				if fe.Param() != "" {
					return fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
				}
				return fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag())
			})...)
		} else {
			problems = append(problems, err.Error())
		}
	}

	if _, err := cfg.Telegram.PollDuration(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := cfg.Storage.BusyDuration(); err != nil {
		problems = append(problems, err.Error())
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			problems = append(problems, fmt.Sprintf("telegram.group_log: invalid chat id %q", g))
		}
	}

	switch strings.TrimSpace(cfg.Storage.Driver) {
	case "redis":
		if strings.TrimSpace(cfg.Storage.RedisAddr) == "" {
			problems = append(problems, "storage.redis_addr: required for driver redis")
		}
	case "badger":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			problems = append(problems, "storage.path: required for driver badger")
		}
	}

	if spec := strings.TrimSpace(cfg.Digest.Cron); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			problems = append(problems, fmt.Sprintf("digest.cron: %v", err))
		}
	}
	if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			problems = append(problems, fmt.Sprintf("digest.timezone: %v", err))
		}
	}

	problems = lo.Uniq(problems)
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

// GroupLogChatID returns telegram.group_log as a chat id (0 if unset/invalid).
func (c *Config) GroupLogChatID() int64 {
	if c == nil {
		return 0
	}
	id, _ := strconv.ParseInt(strings.TrimSpace(c.Telegram.GroupLog), 10, 64)
	return id
}
