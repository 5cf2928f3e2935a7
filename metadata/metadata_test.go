package metadata

import (
	"os"
	"testing"

	"github.com/skypoolhq/skypool/utils"
)

func TestGetAppEnvironmentMemoized(t *testing.T) {
	// The environment is memoized on first use, so flipping the environment
	// variable afterwards must not change the reported environment.
	first := GetAppEnvironment()

	os.Setenv("APP_ENV", "prod")
	defer os.Unsetenv("APP_ENV")

	second := GetAppEnvironment()
	if first != second {
		t.Errorf("got %s after changing APP_ENV, want memoized %s", second, first)
	}
}

func TestIsRunningInCI(t *testing.T) {
	var ciTests = []struct {
		environmentVar string
		want           bool
	}{
		{"1", true},
		{"yes", true},
		{"true", true},
		{"on", true},
		{"false", false},
		{"0", false},
		{"", false},
		{"random", false},
	}

	oldCI := os.Getenv("CI")
	defer os.Setenv("CI", oldCI)

	for _, tt := range ciTests {
		testname := utils.Sprintf("%s,%v", tt.environmentVar, tt.want)
		t.Run(testname, func(t *testing.T) {
			os.Setenv("CI", tt.environmentVar)
			got := IsRunningInCI()

			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetGitCommit(t *testing.T) {
	oldCommit := os.Getenv("GIT_COMMIT")
	defer os.Setenv("GIT_COMMIT", oldCommit)

	os.Setenv("GIT_COMMIT", "AB12CD34")
	if got := GetGitCommit(); got != "ab12cd34" {
		t.Errorf("got %s, want ab12cd34", got)
	}

	os.Setenv("GIT_COMMIT", "")
	if got := GetGitCommit(); got != "local_dev_build" {
		t.Errorf("got %s, want local_dev_build", got)
	}
}
