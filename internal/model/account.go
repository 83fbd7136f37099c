package model

import "time"

type Account struct {
	ID            int        `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	Account       string     `json:"account" yaml:"account"`
	Password      string     `json:"password" yaml:"password"`
	Enabled       bool       `json:"enabled" yaml:"enabled"`
	Status        string     `json:"status" yaml:"status"`
	LastKeepalive *time.Time `json:"last_keepalive,omitempty" yaml:"last_keepalive,omitempty"`
}

// Document 是持久化配置的完整结构：账号、全局设置、定时策略。
type Document struct {
	Accounts []Account `json:"accounts" yaml:"accounts"`
	Settings Settings  `json:"settings" yaml:"settings"`
	Schedule Schedule  `json:"schedule" yaml:"schedule"`
}

func (d Document) Clone() Document {
	out := d
	out.Accounts = make([]Account, len(d.Accounts))
	for i, a := range d.Accounts {
		if a.LastKeepalive != nil {
			t := *a.LastKeepalive
			a.LastKeepalive = &t
		}
		out.Accounts[i] = a
	}
	return out
}

func DefaultDocument() Document {
	return Document{
		Accounts: []Account{},
		Settings: DefaultSettings(),
		Schedule: DefaultSchedule(),
	}
}
