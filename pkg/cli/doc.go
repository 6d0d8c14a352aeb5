/*
Package cli holds the helpers shared by the sentry commands: output
formatting, progress reporting, signal handling and command errors.

Output formatting:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, resp); err != nil {
		return err
	}

Values that implement Table can also be written as CSV, and values that
implement Texter control their own text rendering.

Signal handling:

	ctx, stop := cli.NotifyContext(context.Background())
	defer stop()
*/
package cli
