package pipeline

// reporterScript reads the Playwright JSON report and posts it to the grading webhook.
// Failure screenshots only exist on the runner, so the first few are inlined as base64
// for the API to re-host. The body is signed with HMAC-SHA256 keyed by GRADING_TOKEN.
const reporterScript = `import { readFileSync, existsSync, statSync } from 'node:fs';
import { basename } from 'node:path';
import { createHmac } from 'node:crypto';

const context = JSON.parse(readFileSync('.grading/context.json', 'utf8'));
const resultsPath = 'grading-results.json';

let report = null;
let status = 'failed';
let logs = '';

if (existsSync(resultsPath)) {
  report = JSON.parse(readFileSync(resultsPath, 'utf8'));
  const stats = report.stats || {};
  const failed = (stats.unexpected || 0) > 0;
  const ran = (stats.expected || 0) + (stats.flaky || 0) + (stats.unexpected || 0);
  status = !failed && ran > 0 ? 'passed' : 'failed';
  if (report.errors && report.errors.length > 0) {
    status = 'failed';
    logs = report.errors.map((e) => e.message || String(e)).join('\n');
  }
} else {
  logs = 'playwright did not produce ' + resultsPath;
}

const screenshots = [];
const inline = (path) => {
  if (screenshots.length >= context.max_screenshots || !existsSync(path)) return;
  if (statSync(path).size > context.max_screenshot_bytes) return;
  screenshots.push({ name: basename(path), content: readFileSync(path).toString('base64') });
};
const collect = (suite) => {
  for (const spec of suite.specs || []) {
    for (const test of spec.tests || []) {
      for (const result of test.results || []) {
        for (const attachment of result.attachments || []) {
          if (attachment.contentType === 'image/png' && attachment.path) {
            inline(attachment.path);
          }
        }
      }
    }
  }
  for (const child of suite.suites || []) collect(child);
};
for (const suite of (report && report.suites) || []) collect(suite);

const body = JSON.stringify({
  submission_id: context.submission_id,
  assignment_id: context.assignment_id,
  status,
  test_output: report,
  logs: [logs, process.env.GRADING_RUN_URL, process.env.GRADING_ARTIFACT_URL].filter(Boolean).join('\n'),
  screenshots,
  timestamp: new Date().toISOString(),
});

const signature = 'sha256=' + createHmac('sha256', process.env.GRADING_TOKEN || '').update(body).digest('hex');

const response = await fetch(process.env.GRADING_WEBHOOK_URL, {
  method: 'POST',
  headers: { 'Content-Type': 'application/json', 'X-Hub-Signature-256': signature },
  body,
});

if (!response.ok) {
  console.error('grading webhook rejected results', response.status, await response.text());
  process.exit(1);
}
`
