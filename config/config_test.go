package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func withEnv(k, v string, fn func()) {
	old, had := os.LookupEnv(k)
	_ = os.Setenv(k, v)
	defer func() {
		if had {
			_ = os.Setenv(k, old)
		} else {
			_ = os.Unsetenv(k)
		}
	}()
	fn()
}

func Test_firstNonEmpty(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"all empty", []string{"", "", ""}, ""},
		{"first non-empty", []string{"a", "b"}, "a"},
		{"later non-empty", []string{"", "b"}, "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := firstNonEmpty(tt.in...)
			if got != tt.want {
				t.Errorf("firstNonEmpty() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func Test_getEnv(t *testing.T) {
	tests := []struct {
		name string
		setK string
		setV string
		key  string
		def  string
		want string
	}{
		{"no env uses default non-empty", "", "", "FOO", "bar", "bar"},
		{"env overrides", "FOO", "baz", "FOO", "bar", "baz"},
		{"default empty stays empty", "", "", "FOO", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setK != "" {
				withEnv(tt.setK, tt.setV, func() {
					got := getEnv(tt.key, tt.def)
					if got != tt.want {
						t.Errorf("getEnv() got=%#v want=%#v", got, tt.want)
					}
				})
				return
			}
			got := getEnv(tt.key, tt.def)
			if got != tt.want {
				t.Errorf("getEnv() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func Test_getEnvInt(t *testing.T) {
	tests := []struct {
		name string
		set  string
		def  int
		want int
	}{
		{"no env -> default", "", 7, 7},
		{"valid int", "42", 7, 42},
		{"invalid int -> default", "abc", 9, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.set == "" {
				_ = os.Unsetenv("XINT")
			} else {
				_ = os.Setenv("XINT", tt.set)
				defer os.Unsetenv("XINT")
			}
			got := getEnvInt("XINT", tt.def)
			if got != tt.want {
				t.Errorf("getEnvInt() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func Test_Config_HTTPAddr(t *testing.T) {
	tests := []struct {
		name string
		port int
		want string
	}{
		{"default", 8080, "0.0.0.0:8080"},
		{"custom", 9090, "0.0.0.0:9090"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{MetricsPort: tt.port}
			if got := c.HTTPAddr(); got != tt.want {
				t.Errorf("HTTPAddr() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func Test_Config_Redacted(t *testing.T) {
	c := &Config{Scope: "/s/", Transport: "redis", GoogleProjectID: "pid", Subscription: "sub", PubsubTopic: "topic", RedisAddr: "r:6379", RedisPassword: "secret", KafkaTopic: "k", SchedulingTimeout: 2 * time.Second, TieBreak: "symmetric", MetricsPort: 8081, LogLevel: "debug", EstimationStore: "file", CredentialsFile: "creds.json"}
	got := c.Redacted()
	want := map[string]any{
		"scope":               "/s/",
		"transport":           "redis",
		"projectID":           "pid",
		"subscription":        "sub",
		"topic":               "topic",
		"redisAddr":           "r:6379",
		"redisPasswordSet":    true,
		"kafkaBrokers":        []string(nil),
		"kafkaTopic":          "k",
		"schedulingTimeout":   "2s",
		"tieBreak":            "symmetric",
		"metricsPort":         8081,
		"logLevel":            "debug",
		"estimationStore":     "file",
		"credentialsProvided": true,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Redacted()\n got=%#v\nwant=%#v", got, want)
	}
	for _, v := range got {
		if v == "secret" {
			t.Errorf("Redacted() leaks password")
		}
	}
}

func Test_Config_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Transport: TransportMemory, EstimationStore: "none"}, false},
		{"pubsub complete", Config{Transport: TransportPubsub, GoogleProjectID: "p", Subscription: "s", PubsubTopic: "t", EstimationStore: "none"}, false},
		{"pubsub no project", Config{Transport: TransportPubsub, Subscription: "s", PubsubTopic: "t", EstimationStore: "none"}, true},
		{"pubsub no subscription", Config{Transport: TransportPubsub, GoogleProjectID: "p", PubsubTopic: "t", EstimationStore: "none"}, true},
		{"redis", Config{Transport: TransportRedis, RedisAddr: "localhost:6379", EstimationStore: "redis"}, false},
		{"kafka without brokers", Config{Transport: TransportKafka, EstimationStore: "none"}, true},
		{"unknown transport", Config{Transport: "carrier-pigeon", EstimationStore: "none"}, true},
		{"unknown store", Config{Transport: TransportMemory, EstimationStore: "sql"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if gotErr := err != nil; gotErr != tt.wantErr {
				t.Errorf("Validate() err=%#v wantErr=%#v", err, tt.wantErr)
			}
		})
	}
}

func Test_getEnvDuration(t *testing.T) {
	tests := []struct {
		name string
		set  string
		want time.Duration
	}{
		{"no env -> default", "", 2 * time.Second},
		{"valid", "750ms", 750 * time.Millisecond},
		{"invalid -> default", "soon", 2 * time.Second},
		{"negative -> default", "-1s", 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.set == "" {
				_ = os.Unsetenv("XDUR")
			} else {
				_ = os.Setenv("XDUR", tt.set)
				defer os.Unsetenv("XDUR")
			}
			if got := getEnvDuration("XDUR", 2*time.Second); got != tt.want {
				t.Errorf("getEnvDuration() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func Test_splitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a:9092", []string{"a:9092"}},
		{" a:9092 , ,b:9092", []string{"a:9092", "b:9092"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := splitList(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitList() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func Test_projectIDFromCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	content := []byte(`{"project_id":"my-proj"}`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write temp creds: %#v", err)
	}
	pid, err := projectIDFromCredentials(path)
	if err != nil || pid != "my-proj" {
		t.Errorf("projectIDFromCredentials() pid=%#v err=%#v", pid, err)
	}

	// invalid json returns empty id, no error
	if err := os.WriteFile(path, []byte(`{"nope":1}`), 0o600); err != nil {
		t.Fatalf("write temp creds: %#v", err)
	}
	pid2, err2 := projectIDFromCredentials(path)
	if err2 != nil || pid2 != "" {
		t.Errorf("projectIDFromCredentials(invalid) pid=%#v err=%#v", pid2, err2)
	}
}

func Test_getGoogleProjectID(t *testing.T) {
	unset := func(keys ...string) {
		for _, k := range keys {
			_ = os.Unsetenv(k)
		}
	}
	// ensure clean env
	unset("GOOGLE_APPLICATION_CREDENTIALS", "ALLOCATOR_PUBSUB_PROJECT_ID", "GOOGLE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT")

	dir := t.TempDir()
	credFile := filepath.Join(dir, "creds.json")
	_ = os.WriteFile(credFile, []byte(`{"project_id":"file-proj"}`), 0o600)

	tests := []struct {
		name     string
		setEnv   map[string]string
		creds    string
		explicit string
		want     string
	}{
		{"from GOOGLE_APPLICATION_CREDENTIALS", map[string]string{"GOOGLE_APPLICATION_CREDENTIALS": credFile}, "", "", "file-proj"},
		{"from explicit ALLOCATOR_PUBSUB_PROJECT_ID", map[string]string{}, "", "explicit-proj", "explicit-proj"},
		{"from GOOGLE_PROJECT_ID", map[string]string{"GOOGLE_PROJECT_ID": "env-proj"}, "", "", "env-proj"},
		{"from common env", map[string]string{"GOOGLE_CLOUD_PROJECT": "common-proj"}, "", "", "common-proj"},
		{"from provided credsFile path", map[string]string{}, credFile, "", "file-proj"},
		{"none -> empty", map[string]string{}, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// reset env
			unset("GOOGLE_APPLICATION_CREDENTIALS", "ALLOCATOR_PUBSUB_PROJECT_ID", "GOOGLE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT")
			for k, v := range tt.setEnv {
				_ = os.Setenv(k, v)
			}
			got := getGoogleProjectID(tt.creds, tt.explicit)
			if got != tt.want {
				t.Errorf("getGoogleProjectID() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func Test_Load(t *testing.T) {
	// Use only environment inputs to load; avoid panics
	unset := func(keys ...string) {
		for _, k := range keys {
			_ = os.Unsetenv(k)
		}
	}
	keys := []string{"SCOPE_ALLOCATION", "ALLOCATOR_TRANSPORT", "ALLOCATOR_PUBSUB_SUBSCRIPTION", "ALLOCATOR_PUBSUB_TOPIC", "ALLOCATOR_METRICS_PORT", "ALLOCATOR_LOG_LEVEL", "ALLOCATOR_KAFKA_BROKERS", "ALLOCATOR_SCHEDULING_TIMEOUT", "ALLOCATOR_TIE_BREAK", "GOOGLE_APPLICATION_CREDENTIALS", "ALLOCATOR_GSA_CREDENTIALS", "ALLOCATOR_PUBSUB_PROJECT_ID"}
	unset(keys...)
	defer unset(keys...)

	cfg := Load()
	if cfg.Scope != DefaultScope || cfg.Transport != TransportMemory || cfg.SchedulingTimeout != 2*time.Second || cfg.TieBreak != "initiator" || cfg.KafkaTopic != "allocations" || cfg.EstimationStore != "none" {
		b, _ := json.Marshal(cfg)
		t.Errorf("Load() unexpected defaults: %#v", string(b))
	}

	os.Setenv("SCOPE_ALLOCATION", "/lab/allocation/")
	os.Setenv("ALLOCATOR_TRANSPORT", "Kafka")
	os.Setenv("ALLOCATOR_KAFKA_BROKERS", "k1:9092,k2:9092")
	os.Setenv("ALLOCATOR_METRICS_PORT", "7777")
	os.Setenv("ALLOCATOR_LOG_LEVEL", "warn")
	os.Setenv("ALLOCATOR_SCHEDULING_TIMEOUT", "5s")
	os.Setenv("ALLOCATOR_TIE_BREAK", "symmetric")

	cfg = Load()
	if cfg == nil {
		t.Fatalf("Load() returned nil")
	}
	if cfg.Scope != "/lab/allocation/" || cfg.Transport != TransportKafka || len(cfg.KafkaBrokers) != 2 || cfg.MetricsPort != 7777 || cfg.LogLevel != "warn" || cfg.SchedulingTimeout != 5*time.Second || cfg.TieBreak != "symmetric" {
		b, _ := json.Marshal(cfg)
		t.Errorf("Load() unexpected cfg: %#v", string(b))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() err=%#v", err)
	}
}
