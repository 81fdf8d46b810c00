/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package scope_test

import (
	"crypto/rand"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/hyperledger-labs/testscope/pkg/cassette"
	"github.com/hyperledger-labs/testscope/pkg/clock"
	"github.com/hyperledger-labs/testscope/pkg/detrand"
	"github.com/hyperledger-labs/testscope/pkg/logging"
	"github.com/hyperledger-labs/testscope/pkg/logrecorder"
	"github.com/hyperledger-labs/testscope/pkg/override"
	"github.com/hyperledger-labs/testscope/pkg/scope"
)

var _ = Describe("Scope", func() {
	var (
		host   *fakeT
		events []string
	)

	record := func(event string) {
		events = append(events, event)
	}

	BeforeEach(func() {
		host = newFakeT()
		events = nil
	})

	AfterEach(func() {
		Expect(override.Default.HeldCapabilities()).To(BeEmpty())
	})

	It("runs hooks and tests in nesting order", func() {
		scope.Describe("A", scope.Options{}, func(s *scope.Suite) {
			s.Before(func(t scope.T) { record("A.before") })
			s.After(func(t scope.T) { record("A.after") })
			s.BeforeEach(func(t scope.T, a *scope.Args) { record("A.beforeEach") })
			s.AfterEach(func(t scope.T, a *scope.Args) { record("A.afterEach") })
			s.It("a1", func(t scope.T) { record("a1") })

			s.Describe("B", scope.Options{}, func(s *scope.Suite) {
				s.Before(func(t scope.T) { record("B.before") })
				s.After(func(t scope.T) { record("B.after") })
				s.BeforeEach(func(t scope.T, a *scope.Args) { record("B.beforeEach") })
				s.AfterEach(func(t scope.T, a *scope.Args) { record("B.afterEach.1") })
				s.AfterEach(func(t scope.T, a *scope.Args) { record("B.afterEach.2") })
				s.It("b1", func(t scope.T) { record("b1") })
			})

			s.It("a2", func(t scope.T) { record("a2") })
		}).WithSettings(quiet).RunHost(host)

		Expect(host.Failed()).To(BeFalse())
		Expect(events).To(Equal([]string{
			"A.before",
			"A.beforeEach", "a1", "A.afterEach",
			"B.before",
			"A.beforeEach", "B.beforeEach", "b1", "B.afterEach.1", "B.afterEach.2", "A.afterEach",
			"B.after",
			"A.beforeEach", "a2", "A.afterEach",
			"A.after",
		}))
	})

	It("tears down inner before outer scopes when tests fail", func() {
		const name = "TESTSCOPE_INNER_VAR"
		os.Unsetenv(name)
		_, set := os.LookupEnv(name)
		Expect(set).To(BeFalse())

		pinned := clock.FromUnix(1000)

		scope.Describe("A", scope.Options{FixedTimestamp: scope.Timestamp(1000)}, func(s *scope.Suite) {
			s.After(func(t scope.T) {
				_, set := os.LookupEnv(name)
				record("A.after env=" + boolText(set) + " pinned=" + boolText(clock.Now().Equal(pinned)))
			})

			s.Describe("B", scope.Options{EnvVars: map[string]string{name: "x"}}, func(s *scope.Suite) {
				s.After(func(t scope.T) {
					record("B.after env=" + os.Getenv(name))
				})
				s.It("fails", func(t scope.T) {
					record("fails")
					t.Fatalf("boom")
				})
				s.It("runs anyway", func(t scope.T) {
					record("runs anyway")
				})
			})
		}).WithSettings(quiet).RunHost(host)

		Expect(host.Failed()).To(BeTrue())
		Expect(host.Messages()).To(ContainElement("Fake/A/B/fails: boom"))
		Expect(events).To(Equal([]string{
			"fails",
			"runs anyway",
			"B.after env=x",
			"A.after env=false pinned=true",
		}))

		_, set = os.LookupEnv(name)
		Expect(set).To(BeFalse())
		Expect(clock.Now().Equal(pinned)).To(BeFalse())
	})

	It("sets inline environment variables for the duration of the scope", func() {
		const name = "TESTSCOPE_FOO"
		os.Unsetenv(name)

		scope.Describe("env", scope.Options{EnvVars: map[string]string{name: "1"}}, func(s *scope.Suite) {
			s.It("reads", func(t scope.T) {
				record(os.Getenv(name))
			})
		}).WithSettings(quiet).RunHost(host)

		Expect(host.Failed()).To(BeFalse())
		Expect(events).To(Equal([]string{"1"}))
		_, set := os.LookupEnv(name)
		Expect(set).To(BeFalse())
	})

	It("applies the env file of the outermost scope only", func() {
		dir, err := os.MkdirTemp("", "scope-env")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		outer := filepath.Join(dir, "outer.env.yml")
		inner := filepath.Join(dir, "inner.env.yml")
		Expect(os.WriteFile(outer, []byte("TESTSCOPE_OUTER: 7\n"), 0644)).To(Succeed())
		Expect(os.WriteFile(inner, []byte("TESTSCOPE_INNER: 8\n"), 0644)).To(Succeed())

		scope.Describe("outer", scope.Options{EnvVarsFile: outer}, func(s *scope.Suite) {
			s.Describe("inner", scope.Options{EnvVarsFile: inner}, func(s *scope.Suite) {
				s.It("reads", func(t scope.T) {
					_, set := os.LookupEnv("TESTSCOPE_INNER")
					record(os.Getenv("TESTSCOPE_OUTER") + " " + boolText(set))
				})
			})
		}).WithSettings(quiet).RunHost(host)

		Expect(host.Failed()).To(BeFalse())
		Expect(events).To(Equal([]string{"7 false"}))
		_, set := os.LookupEnv("TESTSCOPE_OUTER")
		Expect(set).To(BeFalse())
	})

	It("does not run tests but runs after hooks when the scope cannot be set up", func() {
		os.Setenv("TESTSCOPE_PRESET", "real")
		defer os.Unsetenv("TESTSCOPE_PRESET")
		os.Unsetenv("TESTSCOPE_AAA")

		scope.Describe("broken", scope.Options{
			FixedTimestamp: scope.Timestamp(5),
			EnvVars: map[string]string{
				"TESTSCOPE_AAA":    "set first",
				"TESTSCOPE_PRESET": "clash",
			},
		}, func(s *scope.Suite) {
			s.Before(func(t scope.T) { record("before") })
			s.After(func(t scope.T) { record("after") })
			s.It("never", func(t scope.T) { record("never") })
		}).WithSettings(quiet).RunHost(host)

		Expect(host.Failed()).To(BeTrue())
		Expect(events).To(Equal([]string{"after"}))
		Expect(os.Getenv("TESTSCOPE_PRESET")).To(Equal("real"))
		_, set := os.LookupEnv("TESTSCOPE_AAA")
		Expect(set).To(BeFalse())
	})

	It("runs after hooks when a before hook fails", func() {
		const name = "TESTSCOPE_BEFORE_FAILED"
		os.Unsetenv(name)

		scope.Describe("failing before", scope.Options{
			EnvVars: map[string]string{name: "1"},
		}, func(s *scope.Suite) {
			s.Before(func(t scope.T) {
				record("before")
				t.Fatalf("before failed")
			})
			s.After(func(t scope.T) {
				_, set := os.LookupEnv(name)
				record("after env=" + boolText(set))
			})
			s.It("never", func(t scope.T) { record("never") })
		}).WithSettings(quiet).RunHost(host)

		Expect(host.Failed()).To(BeTrue())
		Expect(events).To(Equal([]string{"before", "after env=true"}))
		_, set := os.LookupEnv(name)
		Expect(set).To(BeFalse())
	})

	It("makes randomness reproducible across runs", func() {
		run := func() [][]byte {
			var values [][]byte
			scope.Describe("random", scope.Options{RandomSeed: "abc"}, func(s *scope.Suite) {
				s.It("reads twice", func(t scope.T) {
					for i := 0; i < 2; i++ {
						buf := make([]byte, 32)
						if _, err := io.ReadFull(rand.Reader, buf); err != nil {
							t.Fatalf("read: %v", err)
						}
						values = append(values, buf)
					}
				})
			}).WithSettings(quiet).RunHost(newFakeT())
			return values
		}

		first := run()
		second := run()

		Expect(first).To(HaveLen(2))
		Expect(first[0]).NotTo(Equal(first[1]))
		Expect(second).To(Equal(first))
		Expect(first[0]).To(Equal(detrand.Derive("abc", "@32", "1", 32)))
		Expect(first[1]).To(Equal(detrand.Derive("abc", "@32", "2", 32)))
	})

	It("repeats random values when reseeding", func() {
		var values [][]byte
		scope.Describe("reseed", scope.Options{RandomSeed: "abc", ReseedRandom: true}, func(s *scope.Suite) {
			s.It("reads twice", func(t scope.T) {
				for i := 0; i < 2; i++ {
					buf := make([]byte, 16)
					io.ReadFull(rand.Reader, buf)
					values = append(values, buf)
				}
			})
		}).WithSettings(quiet).RunHost(host)

		Expect(host.Failed()).To(BeFalse())
		Expect(values[0]).To(Equal(values[1]))
	})

	It("pins the clock", func() {
		scope.Describe("clock", scope.Options{FixedTimestamp: scope.Timestamp(1600000000.5)}, func(s *scope.Suite) {
			s.It("reads", func(t scope.T) {
				first := clock.Now()
				time.Sleep(time.Millisecond)
				record(first.UTC().Format(time.RFC3339Nano) + " " + boolText(clock.Now().Equal(first)))
			})
		}).WithSettings(quiet).RunHost(host)

		Expect(events).To(Equal([]string{"2020-09-13T12:26:40.5Z true"}))
	})

	It("gives each test a fresh scratch directory", func() {
		var dirs []string
		scope.Describe("dirs", scope.Options{UseScratchDir: true}, func(s *scope.Suite) {
			check := func(t scope.T, a *scope.Args) {
				info, err := os.Stat(a.Dir())
				if err != nil || !info.IsDir() {
					t.Fatalf("no scratch dir: %v", err)
				}
				dirs = append(dirs, a.Dir())
			}
			s.ItWithArgs("one", check)
			s.ItWithArgs("two", check)
		}).WithSettings(quiet).RunHost(host)

		Expect(host.Failed()).To(BeFalse())
		Expect(dirs).To(HaveLen(2))
		Expect(dirs[0]).NotTo(Equal(dirs[1]))
		for _, dir := range dirs {
			Expect(dir).NotTo(BeADirectory())
		}
	})

	It("hands fixtures, captured errors and no recorder to tests", func() {
		dir, err := os.MkdirTemp("", "scope-fixtures")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)
		Expect(os.WriteFile(filepath.Join(dir, "user.yml"), []byte("name: alice\n"), 0644)).To(Succeed())

		var (
			raw      []byte
			decoded  map[string]string
			captured error
			recorder scope.LogRecorder
			scratch  string
		)

		scope.Describe("fixtures", scope.Options{FixtureFolder: dir}, func(s *scope.Suite) {
			s.ItWithArgs("reads", func(t scope.T, a *scope.Args) {
				raw = a.Fixture("user")
				a.DecodeFixture("user.yml", &decoded)
				captured = a.Capture(func() error { panic("exploded") })
				recorder = a.Recorder()
				scratch = a.Dir()
			})
			s.ItWithArgs("misses", func(t scope.T, a *scope.Args) {
				a.Fixture("nobody")
				record("unreachable")
			})
			s.ItWithArgs("captures nothing", func(t scope.T, a *scope.Args) {
				a.Capture(func() error { return nil })
				record("unreachable")
			})
		}).WithSettings(quiet).RunHost(host)

		Expect(raw).To(Equal([]byte("name: alice\n")))
		Expect(decoded).To(Equal(map[string]string{"name": "alice"}))
		Expect(captured).To(MatchError(ContainSubstring("exploded")))
		Expect(recorder).To(BeNil())
		Expect(scratch).To(BeEmpty())
		Expect(events).To(BeEmpty())
		Expect(host.Messages()).To(ContainElement(ContainSubstring(`fixture "nobody" not found or ambiguous`)))
		Expect(host.Messages()).To(ContainElement(ContainSubstring("expected function to fail")))
	})

	It("records logs per test", func() {
		var messages [][]string
		scope.Describe("logs", scope.Options{RecordLogsTo: logrecorder.LoggingTarget()}, func(s *scope.Suite) {
			s.AfterEach(func(t scope.T, a *scope.Args) {
				messages = append(messages, a.Recorder().Messages())
			})
			s.ItWithArgs("logs", func(t scope.T, a *scope.Args) {
				logging.Info("first", "n", 1)
				a.Recorder().Reset()
				logging.Warn("second")
			})
			s.It("logs again", func(t scope.T) {
				logging.Error("third")
			})
		}).WithSettings(quiet).RunHost(host)

		Expect(host.Failed()).To(BeFalse())
		Expect(messages).To(Equal([][]string{
			{"warn: second"},
			{"error: third"},
		}))
	})

	It("replays network cassettes per test", func() {
		dir, err := os.MkdirTemp("", "scope-cassettes")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		c := cassette.New(scope.CassetteName("net", "fetches ping"))
		c.Add(cassette.Interaction{Method: "GET", URL: "http://scope.invalid/ping", Status: 200, ResponseBody: []byte("pong")})
		Expect(cassette.NewFileStore(dir).Save(c)).To(Succeed())

		scope.Describe("net", scope.Options{UseNetworkCapture: true, NetworkCassetteFolder: dir}, func(s *scope.Suite) {
			s.It("fetches ping", func(t scope.T) {
				resp, err := http.Get("http://scope.invalid/ping")
				if err != nil {
					t.Fatalf("get: %v", err)
				}
				defer resp.Body.Close()
				body, _ := io.ReadAll(resp.Body)
				record(string(body))
			})
			s.It("calls nothing", func(t scope.T) {})
		}).WithSettings(quiet).RunHost(host)

		Expect(host.Failed()).To(BeFalse())
		Expect(events).To(Equal([]string{"pong"}))
	})

	It("fails tests which outlive the scope timeout", func() {
		scope.Describe("slow", scope.Options{ScopeTimeout: 20 * time.Millisecond}, func(s *scope.Suite) {
			s.Describe("inherits", scope.Options{}, func(s *scope.Suite) {
				s.ItWithArgs("waits", func(t scope.T, a *scope.Args) {
					<-a.Context().Done()
				})
			})
		}).WithSettings(quiet).RunHost(host)

		Expect(host.Failed()).To(BeTrue())
		Expect(host.Messages()).To(ContainElement(ContainSubstring("exceeded the scope timeout of 20ms")))
	})

	It("fails a body which ignores the deadline once it returns", func() {
		scope.Describe("ignores", scope.Options{ScopeTimeout: 10 * time.Millisecond}, func(s *scope.Suite) {
			s.It("sleeps", func(t scope.T) {
				time.Sleep(30 * time.Millisecond)
				record("returned")
			})
		}).WithSettings(quiet).RunHost(host)

		Expect(events).To(Equal([]string{"returned"}))
		Expect(host.Failed()).To(BeTrue())
		Expect(host.Messages()).To(ContainElement(ContainSubstring("exceeded the scope timeout of 10ms")))
	})

	It("releases interceptors when an after hook fails", func() {
		const name = "TESTSCOPE_RELEASED"
		os.Unsetenv(name)

		scope.Describe("failing after", scope.Options{
			EnvVars:        map[string]string{name: "1"},
			FixedTimestamp: scope.Timestamp(0),
		}, func(s *scope.Suite) {
			s.After(func(t scope.T) {
				t.Fatalf("after failed")
			})
			s.It("passes", func(t scope.T) {})
		}).WithSettings(quiet).RunHost(host)

		Expect(host.Failed()).To(BeTrue())
		_, set := os.LookupEnv(name)
		Expect(set).To(BeFalse())
		Expect(clock.Now().Year()).NotTo(Equal(1970))
	})

	It("panics on invalid options", func() {
		Expect(func() {
			scope.Describe("bad", scope.Options{FixedTimestamp: scope.Timestamp(-1)}, nil)
		}).To(PanicWith(ContainSubstring("bad options provided")))
	})

	It("resolves default paths next to the declaring file", func() {
		s := scope.Describe("paths", scope.Options{}, nil)
		Expect(filepath.Base(s.File())).To(Equal("scope_test.go"))

		dir := filepath.Dir(s.File())
		Expect(s.Options().NetworkCassetteFolder).To(Equal(filepath.Join(dir, "scope_test.go__cassettes")))
		Expect(s.Options().FixtureFolder).To(Equal(filepath.Join(dir, "scope_test.go__fixtures")))
		Expect(s.Options().EnvVarsFile).To(Equal(filepath.Join(dir, "scope_test.go.env.yml")))

		nested := s.Describe("nested", scope.Options{FixtureFolder: "data/$FILENAME"}, nil)
		Expect(nested.Options().FixtureFolder).To(Equal(filepath.Join(dir, "data", "scope_test.go")))
	})
})

func boolText(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
