package report

// htmlTemplate renders the report. It loads nothing from the network.
const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Name}} - Load Test Report</title>
    <style>
        :root { --bg: #ffffff; --bg-page: #f8fafc; --card: #ffffff; --fg: #1e293b; --fg-muted: #64748b; --line: #e2e8f0; --blue: #3b82f6; --pass: #22c55e; --warn: #f59e0b; --fail: #ef4444; --shadow: 0 1px 3px rgba(0, 0, 0, 0.1); }
        [data-theme="dark"] { --bg: #0f172a; --bg-page: #1e293b; --card: #1e293b; --fg: #f1f5f9; --fg-muted: #94a3b8; --line: #334155; --shadow: 0 1px 3px rgba(0, 0, 0, 0.3); }

        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: var(--bg-page); color: var(--fg); line-height: 1.6; }

        .container { max-width: 1400px; margin: 0 auto; padding: 2rem; }
        .header, .section { background: var(--card); border-radius: 12px; padding: 1.5rem 2rem; margin-bottom: 2rem; box-shadow: var(--shadow); }

        .header { display: flex; justify-content: space-between; align-items: center; flex-wrap: wrap; gap: 1rem; }
        .header h1 { font-size: 1.75rem; font-weight: 700; }
        .meta { color: var(--fg-muted); font-size: 0.875rem; display: flex; gap: 1.5rem; flex-wrap: wrap; }
        .meta code { font-size: 0.8rem; }

        .status { padding: 0.5rem 1.25rem; border-radius: 9999px; font-weight: 600; color: #fff; }
        .status.pass { background: var(--pass); }
        .status.fail { background: var(--fail); }
        .abort { color: var(--warn); font-weight: 600; }
        .theme-toggle { background: var(--bg-page); border: 1px solid var(--line); border-radius: 8px; padding: 0.4rem 0.8rem; cursor: pointer; color: var(--fg); }

        .section-title { font-size: 1.25rem; font-weight: 600; margin-bottom: 1rem; }

        .scenario-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(320px, 1fr)); gap: 1rem; }
        .scenario-card { border: 1px solid var(--line); border-radius: 8px; padding: 1rem; }
        .scenario-header { display: flex; justify-content: space-between; margin-bottom: 0.5rem; }
        .scenario-name { font-weight: 600; }
        .scenario-executor { font-size: 0.75rem; color: var(--fg-muted); }
        .scenario-metric { display: flex; justify-content: space-between; font-size: 0.875rem; }
        .scenario-metric .label { color: var(--fg-muted); }
        .scenario-error { color: var(--fail); font-size: 0.875rem; margin-top: 0.5rem; }

        .stats-table { width: 100%; border-collapse: collapse; font-size: 0.875rem; }
        .stats-table th, .stats-table td { text-align: left; padding: 0.5rem; border-bottom: 1px solid var(--line); vertical-align: top; }
        .stats-table th { color: var(--fg-muted); font-weight: 500; }
        .stats-table .values span { display: inline-block; margin-right: 1rem; }
        .stats-table .values .key { color: var(--fg-muted); }

        .threshold-item { display: flex; align-items: center; gap: 1rem; padding: 0.75rem 0; border-bottom: 1px solid var(--line); }
        .threshold-icon { font-weight: 700; width: 1.5rem; text-align: center; }
        .threshold-icon.pass { color: var(--pass); }
        .threshold-icon.fail { color: var(--fail); }
        .threshold-info { flex: 1; }
        .threshold-metric { font-weight: 600; }
        .threshold-expression { font-family: monospace; color: var(--fg-muted); }
        .threshold-value { font-size: 0.875rem; text-align: right; }
        .threshold-flag { font-size: 0.75rem; color: var(--warn); }

        .footer { text-align: center; color: var(--fg-muted); font-size: 0.75rem; }

        @media (max-width: 768px) {
            .container { padding: 1rem; }
            .header { flex-direction: column; align-items: flex-start; }
        }
    </style>
</head>
<body>
    <div class="container">
        <header class="header">
            <div>
                <h1>{{.Name}}</h1>
                {{if .Description}}<p class="description">{{.Description}}</p>{{end}}
                <div class="meta">
                    <span>Run <code>{{.RunID}}</code></span>
                    <span>Started {{.StartTime.Format "2006-01-02 15:04:05"}}</span>
                    <span>Duration {{formatDuration .Duration}}</span>
                </div>
                {{if .Aborted}}<p class="abort">Aborted: {{.AbortReason}}</p>{{end}}
            </div>
            <div>
                <span class="status {{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}✓ PASSED{{else}}✗ FAILED{{end}}</span>
                <button class="theme-toggle" onclick="toggleTheme()" title="Toggle dark mode">◐</button>
            </div>
        </header>

        {{if .Scenarios}}
        <section class="section">
            <h2 class="section-title">Scenarios</h2>
            <div class="scenario-grid">
                {{range .Scenarios}}
                <div class="scenario-card">
                    <div class="scenario-header">
                        <span class="scenario-name">{{.Name}}</span>
                        <span class="scenario-executor">{{.Executor}} · exec={{.Exec}}</span>
                    </div>
                    {{with .Stats}}
                    <div class="scenario-metric"><span class="label">Started</span><span>{{.Started}} of {{printf "%.0f" .ExpectedIterations}} ({{pct .Started .ExpectedIterations}})</span></div>
                    <div class="scenario-metric"><span class="label">Dropped</span><span>{{.Dropped}}</span></div>
                    <div class="scenario-metric"><span class="label">Completed</span><span>{{.Completed}}</span></div>
                    <div class="scenario-metric"><span class="label">Failed</span><span>{{.Failed}}</span></div>
                    <div class="scenario-metric"><span class="label">Incomplete</span><span>{{.Incomplete}}</span></div>
                    <div class="scenario-metric"><span class="label">VUs</span><span>peak {{.Pool.Peak}}, allocated {{.Pool.Allocated}} of {{.Pool.Max}}</span></div>
                    {{end}}
                    {{if .Error}}<div class="scenario-error">Error: {{.Error}}</div>{{end}}
                </div>
                {{end}}
            </div>
        </section>
        {{end}}

        {{if .Metrics}}
        <section class="section">
            <h2 class="section-title">Metrics</h2>
            <table class="stats-table">
                <thead><tr><th>Metric</th><th>Type</th><th>Values</th></tr></thead>
                <tbody>
                    {{range .Metrics}}
                    <tr>
                        <td>{{.Name}}</td>
                        <td>{{.Type}}</td>
                        <td class="values">{{range .Values}}<span><span class="key">{{.Key}}</span>={{.Value}}</span>{{end}}</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
        </section>
        {{end}}

        {{range .PerScenario}}
        <section class="section">
            <h2 class="section-title">Scenario {{.Scenario}}</h2>
            <table class="stats-table">
                <thead><tr><th>Metric</th><th>Type</th><th>Values</th></tr></thead>
                <tbody>
                    {{range .Rows}}
                    <tr>
                        <td>{{.Name}}</td>
                        <td>{{.Type}}</td>
                        <td class="values">{{range .Values}}<span><span class="key">{{.Key}}</span>={{.Value}}</span>{{end}}</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
        </section>
        {{end}}

        {{if .Verdict.Thresholds}}
        <section class="section">
            <h2 class="section-title">Thresholds</h2>
            {{range .Verdict.Thresholds}}
            <div class="threshold-item">
                <span class="threshold-icon {{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}✓{{else}}✗{{end}}</span>
                <div class="threshold-info">
                    <div class="threshold-metric">{{.Metric}}</div>
                    <div class="threshold-expression">{{.Expression}}</div>
                </div>
                <div class="threshold-value">
                    actual {{formatActual .Actual}}
                    {{if .AbortOnFail}}<br><span class="threshold-flag">abortOnFail</span>{{end}}
                </div>
            </div>
            {{end}}
        </section>
        {{end}}

        <footer class="footer">
            <p>Generated by cacheload · {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</p>
        </footer>
    </div>

    <script>
        function toggleTheme() {
            const html = document.documentElement;
            const next = html.getAttribute('data-theme') === 'dark' ? 'light' : 'dark';
            html.setAttribute('data-theme', next);
            localStorage.setItem('theme', next);
        }
        document.documentElement.setAttribute('data-theme', localStorage.getItem('theme') || 'light');
    </script>
</body>
</html>
`
