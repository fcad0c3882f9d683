package httpapi

import (
	"fmt"
	"net/http"
)

const viewerHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>relaydiff</title>
  <style>
    :root {
      --ink: #102223;
      --paper: #f8f4ea;
      --card: #fffdf9;
      --line: #d7cbb3;
      --accent: #1f9d88;
      --accent-2: #e88a3d;
      --danger: #c2483f;
      --muted: #6f7d7d;
      --shadow: 0 18px 36px rgba(16, 34, 35, 0.16);
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Space Grotesk", "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background: linear-gradient(140deg, #fff9ef 0%, #f1f8f7 45%, #fffdf9 100%);
      min-height: 100vh;
    }

    .shell {
      display: grid;
      grid-template-columns: 280px 1fr;
      min-height: 100vh;
    }

    .shell.no-sidebar { grid-template-columns: 1fr; }
    .shell.no-sidebar .sidebar { display: none; }

    .sidebar {
      border-right: 1px solid var(--line);
      background: var(--card);
      padding: 12px;
      overflow: auto;
    }

    .sidebar h2 {
      margin: 12px 0 6px;
      font-size: 0.72rem;
      letter-spacing: 0.09em;
      text-transform: uppercase;
      color: var(--muted);
    }

    .sidebar ul {
      margin: 0;
      padding: 0;
      list-style: none;
      display: grid;
      gap: 4px;
    }

    .sidebar button {
      width: 100%;
      text-align: left;
      background: #fffcf7;
      border: 1px solid #e3d9c4;
      border-left: 4px solid var(--accent);
      border-radius: 8px;
      padding: 6px 8px;
      font-family: inherit;
      font-size: 0.84rem;
      color: var(--ink);
      cursor: pointer;
    }

    .sidebar button.added { border-left-color: #0f8f53; }
    .sidebar button.removed { border-left-color: var(--danger); }
    .sidebar button.renamed { border-left-color: var(--accent-2); }
    .sidebar button.active { background: #eaf8f5; border-color: #9fd6ca; }

    .main { padding: 16px; display: grid; gap: 12px; align-content: start; }

    .bar {
      display: flex;
      align-items: center;
      gap: 10px;
      background: linear-gradient(140deg, #fffefc, #fcf6eb);
      border: 1px solid var(--line);
      border-radius: 14px;
      padding: 10px 14px;
      box-shadow: var(--shadow);
    }

    .bar h1 {
      margin: 0;
      flex: 1;
      font-size: 1.05rem;
      word-break: break-all;
    }

    .bar button {
      border: 1px solid var(--line);
      border-radius: 8px;
      padding: 6px 10px;
      background: linear-gradient(120deg, #f2ede2, #efe6d7);
      font-family: inherit;
      font-weight: 700;
      cursor: pointer;
    }

    .status { font-size: 0.8rem; color: var(--muted); }

    pre.diff {
      margin: 0;
      border: 1px solid #e3d9c4;
      border-radius: 10px;
      background: #fffefb;
      padding: 10px;
      font-family: "IBM Plex Mono", "SFMono-Regular", Menlo, Consolas, monospace;
      font-size: 0.8rem;
      line-height: 1.4;
      overflow: auto;
      white-space: pre;
    }

    .diff .add { background: #e6f6ec; display: block; }
    .diff .del { background: #fbe9e7; display: block; }
    .diff .hunk { color: var(--muted); display: block; }
  </style>
</head>
<body>
  <div id="shell" class="shell no-sidebar">
    <nav class="sidebar" id="sidebar"></nav>
    <main class="main">
      <section class="bar">
        <button id="toggle" type="button" title="toggle sidebar (d)">&#9776;</button>
        <h1 id="title">-</h1>
        <button id="prev" type="button" title="previous file (k)">&#8593;</button>
        <button id="next" type="button" title="next file (j)">&#8595;</button>
        <span class="status" id="status">connecting...</span>
      </section>
      <pre class="diff" id="diff"></pre>
    </main>
  </div>
  <script>
    (function () {
      const dom = {
        shell: document.getElementById("shell"),
        sidebar: document.getElementById("sidebar"),
        title: document.getElementById("title"),
        diff: document.getElementById("diff"),
        status: document.getElementById("status"),
      };
      const view = { entryId: "", groups: [], sidebarVisible: false };

      async function post(path, body) {
        const res = await fetch(path, {
          method: "POST",
          headers: { "Content-Type": "application/json" },
          body: body ? JSON.stringify(body) : "{}",
        });
        const data = await res.json();
        if (!res.ok) {
          throw new Error(data && data.message ? data.message : ("HTTP " + res.status));
        }
        return data;
      }

      function displayPath(meta) {
        if (!meta) {
          return "";
        }
        if (meta.merged) {
          return meta.merged;
        }
        if (meta.to && meta.to !== "/dev/null") {
          return meta.to;
        }
        return meta.from || "";
      }

      function renderDiff(text) {
        dom.diff.textContent = "";
        String(text || "").split("\n").forEach((line) => {
          const span = document.createElement("span");
          if (line.startsWith("@@")) {
            span.className = "hunk";
          } else if (line.startsWith("+") && !line.startsWith("+++")) {
            span.className = "add";
          } else if (line.startsWith("-") && !line.startsWith("---")) {
            span.className = "del";
          }
          span.textContent = line + "\n";
          dom.diff.appendChild(span);
        });
      }

      function renderSidebar() {
        dom.sidebar.textContent = "";
        view.groups.forEach((group) => {
          if (group.dir) {
            const h = document.createElement("h2");
            h.textContent = group.dir === "." ? "<root>" : group.dir;
            dom.sidebar.appendChild(h);
          }
          const ul = document.createElement("ul");
          (group.files || []).forEach((meta) => {
            const id = "meta:" + meta.dirhash + ":" + String(meta.timestamp).padStart(13, "0") + ":" + meta.hash;
            const li = document.createElement("li");
            const btn = document.createElement("button");
            btn.type = "button";
            btn.className = String(meta.change || "");
            if (id === view.entryId) {
              btn.classList.add("active");
            }
            const path = displayPath(meta);
            btn.textContent = group.dir ? path.split("/").pop() : path;
            btn.title = path;
            btn.addEventListener("click", function () {
              post("/v1/view/select", { entryId: id }).then(apply).catch(fail);
            });
            li.appendChild(btn);
            ul.appendChild(li);
          });
          dom.sidebar.appendChild(ul);
        });
        dom.shell.classList.toggle("no-sidebar", !view.sidebarVisible);
      }

      function apply(data) {
        if (data.title) {
          document.title = data.title;
          dom.title.textContent = data.title;
        }
        if (data.entryId) {
          view.entryId = data.entryId;
        }
        if (data.diff !== undefined) {
          renderDiff(data.diff);
        }
        if (Array.isArray(data.groups)) {
          view.groups = data.groups;
        }
        if (data.sidebarVisible !== undefined) {
          view.sidebarVisible = data.sidebarVisible;
        }
        renderSidebar();
      }

      function fail(err) {
        dom.status.textContent = String(err && err.message ? err.message : err);
      }

      function refresh() {
        fetch("/v1/view").then((res) => res.json()).then(apply).catch(fail);
      }

      function connect() {
        const scheme = window.location.protocol === "https:" ? "wss://" : "ws://";
        const socket = new WebSocket(scheme + window.location.host + "/v1/view/events");
        socket.onopen = function () { dom.status.textContent = "live"; };
        socket.onclose = function () { dom.status.textContent = "disconnected"; };
        socket.onmessage = function (msg) {
          const ev = JSON.parse(msg.data);
          switch (ev.type) {
            case "close":
              window.close();
              dom.status.textContent = "superseded by a newer viewer";
              break;
            case "title":
              apply({ title: ev.title });
              break;
            case "current":
              apply({ entryId: ev.entryId, diff: ev.diff, title: displayPath(ev.current) });
              break;
            case "sidebar":
              apply({ groups: ev.groups || [] });
              break;
            default:
              refresh();
          }
        };
      }

      document.getElementById("toggle").addEventListener("click", function () {
        post("/v1/view/sidebar").then(apply).catch(fail);
      });
      document.getElementById("next").addEventListener("click", function () {
        post("/v1/view/next").then(apply).catch(fail);
      });
      document.getElementById("prev").addEventListener("click", function () {
        post("/v1/view/prev").then(apply).catch(fail);
      });
      document.addEventListener("keydown", function (e) {
        if (e.target && e.target.tagName === "INPUT") {
          return;
        }
        if (e.key === "j") {
          post("/v1/view/next").then(apply).catch(fail);
        } else if (e.key === "k") {
          post("/v1/view/prev").then(apply).catch(fail);
        } else if (e.key === "d") {
          post("/v1/view/sidebar").then(apply).catch(fail);
        }
      });

      refresh();
      connect();
    })();
  </script>
</body>
</html>`

func (s *Server) handleViewerPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, viewerHTML)
}
