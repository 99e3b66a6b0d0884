package engramcmder_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	engramcmder "github.com/papercomputeco/engram/cmd/engram"
)

var _ = Describe("NewEngramCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := engramcmder.NewEngramCmd()
		Expect(cmd.Use).To(Equal("engram"))
	})

	It("registers the expected subcommands", func() {
		cmd := engramcmder.NewEngramCmd()
		cmds := cmd.Commands()
		names := make([]string, 0, len(cmds))
		for _, sub := range cmds {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("serve", "config", "chat", "attach", "status", "admin", "version"))
	})

	It("defines the global debug and config-dir flags", func() {
		cmd := engramcmder.NewEngramCmd()
		Expect(cmd.PersistentFlags().Lookup("debug")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})
})
